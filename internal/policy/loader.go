package policy

import (
	"errors"
	"fmt"
	"strings"

	"tradegate/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Loader reads risk limits from a YAML/TOML file and pushes each change into
// the Store as a new version. Edits on disk behave exactly like an admin
// update: full replacement, previous version retained.
type Loader struct {
	path  string
	v     *viper.Viper
	store *Store
}

// NewLoader reads the policy file, installs it, and starts watching for
// filesystem changes.
func NewLoader(path string, store *Store) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("policy loader requires path")
	}
	if store == nil {
		return nil, fmt.Errorf("policy loader requires store")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file failed: %w", err)
	}
	l := &Loader{path: path, v: v, store: store}
	if err := l.reload(); err != nil && !errors.Is(err, ErrNoOpUpdate) {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			if errors.Is(err, ErrNoOpUpdate) {
				return
			}
			logger.Errorf("policy reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("policy: reloaded from %s", l.path)
	})
	v.WatchConfig()
	return l, nil
}

func (l *Loader) reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read policy file failed: %w", err)
	}
	next := l.store.Current()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "toml",
		WeaklyTypedInput: true,
		Result:           &next,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(l.v.AllSettings()); err != nil {
		return fmt.Errorf("parse policy file failed: %w", err)
	}
	_, err = l.store.Replace(next)
	return err
}
