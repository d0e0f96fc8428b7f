package schema

import "embed"

// Builtin schema documents for the OpenAlex entity types. Extra or
// replacement schemas can be loaded from a directory via ReadDir.
//
//go:embed schemas/*.yaml
var builtinFS embed.FS

// Builtin returns the embedded schema documents in a fixed order.
func Builtin() ([][]byte, error) {
	entries, err := builtinFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	docs := make([][]byte, 0, len(entries))
	for _, e := range entries {
		data, err := builtinFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		docs = append(docs, data)
	}
	return docs, nil
}

// NewBuiltinRegistry loads the embedded OpenAlex schemas, optionally
// merged with documents from extraDir.
func NewBuiltinRegistry(extraDir string) (*Registry, error) {
	docs, err := Builtin()
	if err != nil {
		return nil, err
	}
	if extraDir != "" {
		extra, err := ReadDir(extraDir)
		if err != nil {
			return nil, err
		}
		docs = append(docs, extra...)
	}
	return NewRegistry(docs...)
}
