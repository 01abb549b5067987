package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"

[[Site]]
Name = "wiki"
Domain = "wiki.local"
Profile = "wiki"
Upstream = "https://wiki.example.org"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsSiteLevelPort(t *testing.T) {
	cfg := `
StoragePath = "./data"

[[Site]]
Name = "wiki"
Domain = "wiki.local"
Profile = "wiki"
Upstream = "https://wiki.example.org"
Port = 8080
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("站点级 Port 应被拒绝")
	}
}

func TestLoadAppliesDurableTierOverride(t *testing.T) {
	cfg := `
StoragePath = "./data"

[[Site]]
Name = "wiki"
Domain = "wiki.local"
Profile = "wiki"
Upstream = "https://wiki.example.org"
DurableTier = false
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	runtime, err := BuildSiteRuntime(loaded.Sites[0])
	if err != nil {
		t.Fatalf("BuildSiteRuntime error: %v", err)
	}
	if runtime.Profile.DurableTier {
		t.Fatalf("DurableTier=false 应覆盖 wiki 默认值")
	}
}
