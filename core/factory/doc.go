// Package factory provides a small generic registry used to instantiate
// pluggable modules (snapshot stores, event logs, metrics sinks) from
// configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[snapshot.Store]()
//	reg.Register("sqlite", func(conf map[string]any) (snapshot.Store, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return NewSQLiteStore(c.Path)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "state.db"}})
package factory
