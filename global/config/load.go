package config

import (
	"os"

	"MeetChat/service/nacos"
	"MeetChat/tools/errs"

	"github.com/go-playground/validator/v10"
	"github.com/golang/glog"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "MEETCHAT"

var validate = validator.New()

// Load layers the configuration: defaults, then the YAML file (optional), then MEETCHAT_*
// environment variables, then the Nacos document when nacos.enabled is set.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
		glog.Infof("config file loaded: %s", path)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}

	if cfg.Nacos.Enabled {
		if err := applyNacos(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyNacos(cfg *AppConfig) error {
	cli, err := nacos.NewConfigClient(cfg.Nacos)
	if err != nil {
		return err
	}
	content, err := nacos.Fetch(cli, cfg.Nacos.DataID, cfg.Nacos.Group)
	if err != nil {
		return err
	}
	if err := Merge(cfg, content); err != nil {
		return err
	}
	glog.Infof("nacos config applied: %s/%s", cfg.Nacos.Group, cfg.Nacos.DataID)
	return nil
}

// Merge overlays a YAML document on cfg. Keys missing from the document keep their value.
func Merge(cfg *AppConfig, content string) error {
	if content == "" {
		return nil
	}
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return errors.Wrap(err, "parse remote config")
	}
	return nil
}

func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.ErrValidation.WrapMsg("invalid config: " + err.Error())
	}
	return nil
}
