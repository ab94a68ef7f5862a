package config

import (
	"encoding/json"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Load returns the defaults overlaid with the JSON file at path, if any.
// Fields absent from the file keep their default values.
func Load(path string) (*PipelineConfig, error) {
	config := Default()
	if path == "" {
		return config, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()
	p := json.NewDecoder(f)
	p.DisallowUnknownFields()
	if err := p.Decode(config); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	log.Debugf("Loaded configuration file %s", path)
	return config, nil
}

// Dump logs the resolved configuration.
func Dump(c *PipelineConfig) {
	log.Infof("Resolved configuration: %v", spew.Sdump(c))
}
