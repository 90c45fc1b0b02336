// Package schema manages the embedded table index: loading the fixed
// table definitions, ingesting them into the vector collection, and
// retrieving the most relevant tables for a question.
package schema

import (
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/model"
	"gopkg.in/yaml.v3"
)

type definitionsFile struct {
	Tables []*model.TableDef `yaml:"tables"`
}

// Load reads table definitions from a YAML file.
func Load(path string) ([]*model.TableDef, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open schema definitions", goerr.V("path", path))
	}
	defer fd.Close()

	defs, err := Parse(fd)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse schema definitions", goerr.V("path", path))
	}
	return defs, nil
}

// Parse decodes and validates table definitions.
func Parse(r io.Reader) ([]*model.TableDef, error) {
	var file definitionsFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, goerr.Wrap(err, "failed to decode schema YAML")
	}
	if len(file.Tables) == 0 {
		return nil, goerr.New("schema definitions contain no tables")
	}

	seen := map[string]struct{}{}
	for _, def := range file.Tables {
		if def.Table == "" {
			return nil, goerr.New("table definition without identifier")
		}
		if _, ok := seen[def.Table]; ok {
			return nil, goerr.New("duplicate table definition", goerr.V("table", def.Table))
		}
		seen[def.Table] = struct{}{}
		if len(def.Columns) == 0 {
			return nil, goerr.New("table definition without columns", goerr.V("table", def.Table))
		}
	}
	return file.Tables, nil
}
