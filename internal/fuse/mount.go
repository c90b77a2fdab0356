package fuse

import (
	"fmt"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountOptions configures the kernel mount.
type MountOptions struct {
	// AllowOther lets users other than the mounting one access the
	// filesystem. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug logs every kernel request and response.
	Debug bool
}

// Mount attaches the filesystem at mountpoint and returns the running
// server. The caller must call Serve (or wait on it) and Unmount.
func Mount(fs *FileSystem, mountpoint string, options MountOptions) (*fuse.Server, error) {
	server, err := fuse.NewServer(fs, mountpoint, &fuse.MountOptions{
		FsName:     "joplinfs",
		Name:       "joplinfs",
		AllowOther: options.AllowOther,
		Debug:      options.Debug,
		Options:    []string{"ro"},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting %s: %w", mountpoint, err)
	}
	return server, nil
}
