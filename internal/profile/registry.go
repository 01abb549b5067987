package profile

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func newRegistry() *registry {
	return &registry{profiles: make(map[string]Profile)}
}

// Register 将 Profile 加入全局注册表，重复键会返回错误。
func Register(p Profile) error {
	return globalRegistry.register(p)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(p Profile) {
	if err := Register(p); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的 Profile。
func Resolve(key string) (Profile, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的 Profile 列表。
func List() []Profile {
	return globalRegistry.list()
}

// Keys 返回所有已注册类型的键值，供配置校验提示使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, p := range items {
		result[i] = p.Key
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(p Profile) error {
	key := normalizeKey(p.Key)
	if key == "" {
		return fmt.Errorf("profile key is required")
	}
	p.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[key]; exists {
		return fmt.Errorf("profile %s already registered", key)
	}
	r.profiles[key] = p
	return nil
}

func (r *registry) resolve(key string) (Profile, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Profile{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[normalized]
	return p, ok
}

func (r *registry) list() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.profiles))
	for key := range r.profiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Profile, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.profiles[key])
	}
	return result
}
