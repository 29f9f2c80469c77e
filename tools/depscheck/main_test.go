package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCheckFlagsUpwardImports(t *testing.T) {
	tests := []struct {
		name string
		pkg  packageInfo
		want []string
	}{
		{
			name: "app may import anything",
			pkg:  packageInfo{ImportPath: "kartsync/server/internal/app", Imports: []string{"kartsync/server/internal/netgame", "kartsync/server/internal/net"}},
		},
		{
			name: "http surface reads the session",
			pkg:  packageInfo{ImportPath: "kartsync/server/internal/net", Imports: []string{"kartsync/server/internal/netgame"}},
		},
		{
			name: "domain package reaching up",
			pkg:  packageInfo{ImportPath: "kartsync/server/internal/join", Imports: []string{"kartsync/server/internal/netgame", "kartsync/server/internal/registry"}},
			want: []string{"kartsync/server/internal/join -> kartsync/server/internal/netgame"},
		},
		{
			name: "session importing app",
			pkg:  packageInfo{ImportPath: "kartsync/server/internal/netgame", Imports: []string{"kartsync/server/internal/app"}},
			want: []string{"kartsync/server/internal/netgame -> kartsync/server/internal/app"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, check(tt.pkg)); diff != "" {
				t.Fatalf("violations (-want +got):\n%s", diff)
			}
		})
	}
}
