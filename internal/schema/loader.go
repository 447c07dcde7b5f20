package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// The schema file is a mapping from table name to a column -> type
// mapping:
//
//	dbo.Customer:
//	  CustomerID: int
//	  Name: nvarchar(100)
//
// Only the column keys matter for lineage; the type strings are opaque.
// Decoding goes through yaml.Node rather than a map so that the column
// order of the file is preserved, which drives positional INSERT pairing.
// JSON schema files load through the same path since YAML is a superset.

// LoadFile loads a schema registry from a YAML or JSON file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return reg, nil
}

// Parse parses schema file contents into a registry.
func Parse(data []byte) (*Registry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	tables := make(map[string][]string)

	if len(doc.Content) == 0 {
		return New(tables), nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("schema root must be a mapping of table names")
	}

	// Mapping nodes interleave key and value nodes
	for i := 0; i+1 < len(root.Content); i += 2 {
		tableName := root.Content[i].Value
		colsNode := root.Content[i+1]

		var cols []string
		switch colsNode.Kind {
		case yaml.MappingNode:
			for j := 0; j+1 < len(colsNode.Content); j += 2 {
				cols = append(cols, colsNode.Content[j].Value)
			}
		case yaml.SequenceNode:
			// Plain column lists are accepted too
			for _, item := range colsNode.Content {
				cols = append(cols, item.Value)
			}
		default:
			return nil, fmt.Errorf("table %s: columns must be a mapping or list", tableName)
		}

		tables[tableName] = cols
	}

	return New(tables), nil
}
