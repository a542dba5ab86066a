/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stations holds the directory of ambient radio stations.
package stations

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownStation is returned when a station id is not in the directory.
var ErrUnknownStation = errors.New("unknown station")

// Station is one ambient stream.
type Station struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Genre string `json:"genre" yaml:"genre"`
	URL   string `json:"url" yaml:"url"`
}

// DefaultStationID is played on startup unless a stations file says otherwise.
const DefaultStationID = "groovesalad"

// Builtin returns the stations compiled into the binary.
func Builtin() []Station {
	return []Station{
		somaFM("groovesalad", "Groove Salad", "Chill"),
		somaFM("dronezone", "Drone Zone", "Ambient"),
		somaFM("defcon", "DEF CON Radio", "Electronic"),
		somaFM("indiepop", "Indie Pop Rocks", "Indie Pop"),
		somaFM("secretagent", "Secret Agent", "Lounge"),
		somaFM("spacestation", "Space Station Soma", "Space"),
	}
}

func somaFM(id, name, genre string) Station {
	return Station{ID: id, Name: name, Genre: genre, URL: "https://ice2.somafm.com/" + id + "-128-mp3"}
}

// Directory is a concurrency-safe, replaceable station list.
type Directory struct {
	mu        sync.RWMutex
	stations  []Station
	byID      map[string]Station
	defaultID string
}

// NewDirectory builds a directory. defaultID must name one of the stations.
func NewDirectory(list []Station, defaultID string) (*Directory, error) {
	d := &Directory{}
	if err := d.replace(list, defaultID); err != nil {
		return nil, err
	}
	return d, nil
}

// NewBuiltinDirectory returns the directory of built-in stations.
func NewBuiltinDirectory() *Directory {
	d, err := NewDirectory(Builtin(), DefaultStationID)
	if err != nil {
		panic(err)
	}
	return d
}

// Get looks up a station by id.
func (d *Directory) Get(id string) (Station, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.byID[id]
	return st, ok
}

// List returns the stations in display order.
func (d *Directory) List() []Station {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Station(nil), d.stations...)
}

// Default returns the station played on startup.
func (d *Directory) Default() Station {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byID[d.defaultID]
}

func (d *Directory) replace(list []Station, defaultID string) error {
	if len(list) == 0 {
		return errors.New("station list is empty")
	}

	byID := make(map[string]Station, len(list))
	for i, st := range list {
		if st.ID == "" || st.URL == "" {
			return fmt.Errorf("station %d: id and url are required", i)
		}
		if _, dup := byID[st.ID]; dup {
			return fmt.Errorf("station %q listed twice", st.ID)
		}
		if st.Name == "" {
			st.Name = st.ID
			list[i] = st
		}
		byID[st.ID] = st
	}

	if defaultID == "" {
		defaultID = list[0].ID
	}
	if _, ok := byID[defaultID]; !ok {
		return fmt.Errorf("default station %q: %w", defaultID, ErrUnknownStation)
	}

	d.mu.Lock()
	d.stations = append([]Station(nil), list...)
	d.byID = byID
	d.defaultID = defaultID
	d.mu.Unlock()
	return nil
}

// fileFormat is the on-disk layout of a stations file.
type fileFormat struct {
	Default  string    `yaml:"default"`
	Stations []Station `yaml:"stations"`
}

// LoadFile reads a YAML stations file.
func LoadFile(path string) (*Directory, error) {
	list, def, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return NewDirectory(list, def)
}

// Reload replaces the directory contents from path. On error the current
// list is kept.
func (d *Directory) Reload(path string) error {
	list, def, err := readFile(path)
	if err != nil {
		return err
	}
	return d.replace(list, def)
}

func readFile(path string) ([]Station, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read stations file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("parse stations file: %w", err)
	}
	return f.Stations, f.Default, nil
}
