// Command bridgefs mounts a backing tree (a mirrored host directory or an
// S3 bucket) as a local file system through the best native FUSE provider
// for the host.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bridgefs/bridgefs/internal/config"
	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/internal/fsops/mirror"
	s3fs "github.com/bridgefs/bridgefs/internal/fsops/s3"
	"github.com/bridgefs/bridgefs/internal/fuse"
	"github.com/bridgefs/bridgefs/internal/metrics"
	"github.com/bridgefs/bridgefs/internal/mount"
	"github.com/bridgefs/bridgefs/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridgefs: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		mountPoint string
		backend    string
		mirrorRoot string
		bucket     string
		volumeName string
		readOnly   bool
		listOnly   bool
	)
	flag.StringVar(&configPath, "config", "", "path to YAML configuration")
	flag.StringVar(&mountPoint, "mount-point", "", "where to mount the volume")
	flag.StringVar(&backend, "backend", "", "backend type: mirror or s3")
	flag.StringVar(&mirrorRoot, "root", "", "host directory to mirror")
	flag.StringVar(&bucket, "bucket", "", "S3 bucket to mount")
	flag.StringVar(&volumeName, "volume-name", "", "volume name")
	flag.BoolVar(&readOnly, "read-only", false, "mount read-only")
	flag.BoolVar(&listOnly, "list-providers", false, "list mount providers and exit")
	flag.Parse()

	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if mountPoint != "" {
		cfg.Mount.MountPoint = mountPoint
	}
	if backend != "" {
		cfg.Backend.Type = backend
	}
	if mirrorRoot != "" {
		cfg.Backend.Mirror = mirrorRoot
	}
	if bucket != "" {
		cfg.Backend.S3.Bucket = bucket
		cfg.Backend.Type = config.BackendS3
	}
	if volumeName != "" {
		cfg.Mount.VolumeName = volumeName
	}
	if readOnly {
		cfg.Mount.ReadOnly = true
	}

	if listOnly {
		for _, p := range mount.Providers() {
			fmt.Printf("%-12s os=%-8s priority=%-4d supported=%-5v caps=%s\n",
				p.DisplayName(), p.OperatingSystem(), p.Priority(), p.Supported(), p.Capabilities())
		}
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log := utils.DefaultLogger()
	if level, err := utils.ParseLogLevel(cfg.Global.LogLevel); err == nil {
		log.SetLevel(level)
	}

	collector, err := metrics.NewCollector(&cfg.Metrics)
	if err != nil {
		return err
	}
	if err := collector.Start(); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = collector.Stop(ctx)
	}()
	fuse.SetCollector(collector)

	ctx := context.Background()
	var fsys fsops.FileSystem
	switch cfg.Backend.Type {
	case config.BackendMirror:
		fsys, err = mirror.New(cfg.Backend.Mirror)
	case config.BackendS3:
		fsys, err = s3fs.New(ctx, cfg.Backend.S3)
	}
	if err != nil {
		return err
	}

	required, err := requiredCapabilities(cfg)
	if err != nil {
		return err
	}
	provider, err := mount.Select(required)
	if err != nil {
		return err
	}
	log.Info("using mount provider", map[string]interface{}{"provider": provider.DisplayName()})

	builder := provider.ForFileSystem(fsys)
	caps := provider.Capabilities()

	if caps.Has(mount.CapMountFlags) {
		flags := cfg.Mount.MountFlags
		if flags == "" {
			flags = provider.DefaultMountFlags(cfg.Mount.VolumeName)
		}
		if flags != "" {
			if err := builder.SetMountFlags(flags); err != nil {
				return err
			}
		}
	}
	if !caps.Has(mount.CapMountToSystemChosenPath) {
		if err := builder.SetMountPoint(cfg.Mount.MountPoint); err != nil {
			return err
		}
	}
	if cfg.Mount.ReadOnly {
		if err := builder.SetReadOnly(true); err != nil {
			return err
		}
	}
	if cfg.Mount.Port != 0 && caps.Has(mount.CapPort) {
		if err := builder.SetPort(cfg.Mount.Port); err != nil {
			return err
		}
	}
	if caps.Has(mount.CapVolumeName) && cfg.Mount.VolumeName != "" {
		if err := builder.SetVolumeName(cfg.Mount.VolumeName); err != nil {
			return err
		}
	}
	if caps.Has(mount.CapLoopbackHostName) && cfg.Mount.LoopbackHostName != "" {
		if err := builder.SetLoopbackHostName(cfg.Mount.LoopbackHostName); err != nil {
			return err
		}
	}

	handle, err := builder.Mount()
	if err != nil {
		return err
	}
	log.Info("mounted successfully", map[string]interface{}{"mount_point": handle.MountPoint()})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", map[string]interface{}{"signal": sig.String()})

	// Release escalates to a forced unmount when a graceful one is refused
	// and the provider supports it.
	return handle.Release()
}

func requiredCapabilities(cfg *config.Configuration) (mount.CapabilitySet, error) {
	var required mount.CapabilitySet
	if cfg.Mount.ReadOnly {
		required |= mount.CapabilitySet(mount.CapReadOnly)
	}
	for _, name := range cfg.Mount.RequiredCapabilities {
		c, ok := mount.ParseCapability(name)
		if !ok {
			return 0, fmt.Errorf("unknown capability: %s", name)
		}
		required |= mount.CapabilitySet(c)
	}
	return required, nil
}
