package ingest

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeyTable 是命名空间到 RSA 公钥的只读映射，构造后不再修改，可被多个 Gateway 共享。
type KeyTable struct {
	keys map[string]*rsa.PublicKey
}

// keyFile 对应 KeysFile 的 YAML 结构。
type keyFile struct {
	Namespaces map[string]string `yaml:"namespaces"`
}

// NewKeyTable 解析 base64 编码的 SPKI（DER）公钥，也接受 PEM。
func NewKeyTable(raw map[string]string) (*KeyTable, error) {
	table := &KeyTable{keys: make(map[string]*rsa.PublicKey, len(raw))}
	for namespace, encoded := range raw {
		if strings.TrimSpace(namespace) == "" {
			return nil, errors.New("empty namespace in key table")
		}
		key, err := parsePublicKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("namespace %s: %w", namespace, err)
		}
		table.keys[namespace] = key
	}
	return table, nil
}

// LoadKeyTable 从 YAML 文件读取命名空间公钥。
func LoadKeyTable(path string) (*KeyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key table: %w", err)
	}
	var file keyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse key table %s: %w", path, err)
	}
	return NewKeyTable(file.Namespaces)
}

// Lookup 返回命名空间的公钥。
func (t *KeyTable) Lookup(namespace string) (*rsa.PublicKey, bool) {
	if t == nil {
		return nil, false
	}
	key, ok := t.keys[namespace]
	return key, ok
}

// Namespaces 返回排序后的命名空间列表。
func (t *KeyTable) Namespaces() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.keys))
	for name := range t.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parsePublicKey(encoded string) (*rsa.PublicKey, error) {
	encoded = strings.TrimSpace(encoded)
	var der []byte
	if block, _ := pem.Decode([]byte(encoded)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
		der = decoded
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
