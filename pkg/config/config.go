package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	ErrNilPointer    = errors.New("nil pointer provided to config loader")
)

type entry struct {
	once  sync.Once
	value any
	err   error
}

var (
	dotenvOnce sync.Once
	loaded     sync.Map // reflect.Type -> *entry
)

// Load fills v from environment variables using `env` struct tags. A .env file
// in the working directory is read once per process if present. Each config
// type is parsed once; later calls receive a copy of the cached value.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		// the file is optional
		_ = godotenv.Load()
	})

	key := reflect.TypeFor[T]()
	raw, _ := loaded.LoadOrStore(key, &entry{})
	e := raw.(*entry)

	e.once.Do(func() {
		var parsed T
		if err := env.Parse(&parsed); err != nil {
			e.err = errors.Join(ErrParsingConfig, err)
			return
		}
		e.value = parsed
	})

	if e.err != nil {
		// let a corrected environment be picked up on the next call
		loaded.CompareAndDelete(key, e)
		return e.err
	}

	*v = e.value.(T)
	return nil
}

// MustLoad is Load for configuration the process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
