package topology

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Holder serves the currently loaded plant topology. The backing file is
// watched so facility, line, and target changes apply without a restart.
type Holder struct {
	current atomic.Value // holds Topology
}

func NewHolder(log *zap.Logger) (*Holder, error) {
	v := viper.New()

	v.SetConfigName("topology")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tallyd/config")
	v.AddConfigPath("/etc/tallyd")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TALLYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	log = log.Named("topology")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultTopology()
		v.SetDefault("topology.facilities", defaults.Facilities)
	}

	var cfg Topology
	if err := v.UnmarshalKey("topology", &cfg); err != nil {
		return nil, err
	}
	if err := validateTopology(cfg); err != nil {
		return nil, err
	}

	holder := &Holder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Topology
		if err := v.UnmarshalKey("topology", &updated); err != nil {
			log.Warn("topology reload failed", zap.Error(err))
			return
		}
		if err := validateTopology(updated); err != nil {
			log.Warn("invalid topology ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("topology reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *Holder) Get() Topology {
	return h.current.Load().(Topology)
}

// Target reads the current daily target for a facility.
func (h *Holder) Target(facility string) int64 {
	return h.Get().Target(facility)
}

// NewStaticHolder wraps a fixed topology with no file watching.
func NewStaticHolder(t Topology) *Holder {
	holder := &Holder{}
	holder.current.Store(t)
	return holder
}

var Module = fx.Module("topology",
	fx.Provide(NewHolder),
)
