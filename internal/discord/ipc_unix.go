//go:build !windows

package discord

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

var ipcSubdirs = []string{"", "app/com.discordapp.Discord", "snap.discord"}

func candidatePaths() []string {
	var dirs []string
	for _, env := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if v := os.Getenv(env); v != "" {
			dirs = append(dirs, v)
		}
	}
	dirs = append(dirs, "/tmp")

	seen := map[string]struct{}{}
	var out []string
	for i := 0; i < 10; i++ {
		for _, d := range dirs {
			for _, sub := range ipcSubdirs {
				p := filepath.Join(d, sub, fmt.Sprintf("discord-ipc-%d", i))
				if _, ok := seen[p]; ok {
					continue
				}
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	return out
}

func dialIPC(ctx context.Context) (net.Conn, error) {
	var (
		d       net.Dialer
		lastErr error
	)
	for _, p := range candidatePaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		conn, err := d.DialContext(ctx, "unix", p)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoIPC, lastErr)
	}
	return nil, ErrNoIPC
}
