package lock

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestKeyFormats(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "keyword table",
			got:  KeywordTableKey(id),
			want: "lock:keyword_table:update:6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		},
		{
			name: "document enabled",
			got:  DocumentEnabledKey(id),
			want: "lock:document:update_enabled:6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		},
		{
			name: "segment enabled",
			got:  SegmentEnabledKey(id),
			want: "lock:segment:update_enabled:6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("key = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestReleaseZeroHandleIsSafe(t *testing.T) {
	var nilHandle *Handle
	nilHandle.Release(context.Background())
	(&Handle{}).Release(context.Background())
}
