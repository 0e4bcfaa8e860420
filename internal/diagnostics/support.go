package diagnostics

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"gopkg.in/yaml.v3"

	"github.com/hyescribe/hyescribe/internal/conf"
)

// SupportDump is the sanitized snapshot written by the support command.
// Secrets never appear here: settings pass through conf.Sanitized first.
type SupportDump struct {
	GeneratedAt time.Time      `yaml:"generated_at"`
	Version     string         `yaml:"version"`
	System      SystemInfo     `yaml:"system"`
	Settings    conf.Settings  `yaml:"settings"`
}

// SystemInfo describes the host environment.
type SystemInfo struct {
	OS            string `yaml:"os"`
	Platform      string `yaml:"platform"`
	KernelVersion string `yaml:"kernel_version"`
	Arch          string `yaml:"arch"`
	NumCPU        int    `yaml:"num_cpu"`
	GoVersion     string `yaml:"go_version"`
	TotalMemoryMB uint64 `yaml:"total_memory_mb"`
	UptimeSeconds uint64 `yaml:"uptime_seconds"`
	InContainer   bool   `yaml:"in_container"`
}

// CollectSupportDump gathers the sanitized diagnostics snapshot.
func CollectSupportDump(settings *conf.Settings, version string) *SupportDump {
	info := SystemInfo{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
		GoVersion:   runtime.Version(),
		InContainer: conf.RunningInContainer(),
	}

	if hostInfo, err := host.Info(); err == nil {
		info.Platform = hostInfo.Platform
		info.KernelVersion = hostInfo.KernelVersion
		info.UptimeSeconds = hostInfo.Uptime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemoryMB = vm.Total / 1024 / 1024
	}

	return &SupportDump{
		GeneratedAt: time.Now().UTC(),
		Version:     version,
		System:      info,
		Settings:    settings.Sanitized(),
	}
}

// WriteSupportDump serializes the dump to a YAML file.
func WriteSupportDump(dump *SupportDump, path string) error {
	data, err := yaml.Marshal(dump)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
