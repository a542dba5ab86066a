/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/friendsincode/radiorelay/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "radiorelay ") {
		t.Fatalf("output = %q", out)
	}
}

func TestStationsCommandFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.yaml")
	body := "default: b\nstations:\n  - {id: a, name: A, url: http://a.example/stream}\n  - {id: b, name: B, url: http://b.example/stream}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { stationsFile, stationsJSON = "", false })

	out, err := execute(t, "stations", "--file", path, "--json")
	if err != nil {
		t.Fatalf("stations: %v", err)
	}
	var got struct {
		Default  string `json:"default"`
		Stations []struct {
			ID string `json:"id"`
		} `json:"stations"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Default != "b" || len(got.Stations) != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("RELAY_JWT_SIGNING_KEY", "secret")
	t.Setenv("RELAY_ROOM_NAME", "lounge")
	t.Cleanup(func() { tokenIdentity, tokenName = "", "" })

	out, err := execute(t, "token", "--identity", "speaker-1", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.Parse([]byte("secret"), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.Identity != "speaker-1" || claims.Room != "lounge" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokenCommandRequiresKey(t *testing.T) {
	t.Setenv("RELAY_JWT_SIGNING_KEY", "")
	if _, err := execute(t, "token"); err == nil {
		t.Fatal("expected error without signing key")
	}
}
