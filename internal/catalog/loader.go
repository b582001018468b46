package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// 支持的目录文件格式
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
	FormatJSON = "json"
)

// Default 内置目录
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalogYAML), FormatYAML)
}

// Load 从 reader 解析目录文档
func Load(r io.Reader, format string) (*Catalog, error) {
	var doc Document
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatYAML, "yml", "":
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("解析 YAML 目录失败: %w", err)
		}
	case FormatTOML:
		if err := toml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("解析 TOML 目录失败: %w", err)
		}
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("解析 JSON 目录失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的目录格式: %s", format)
	}
	return New(doc)
}

// LoadFile 按扩展名选择解析器；path 为空时返回内置目录
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开目录文件失败: %w", err)
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Load(f, format)
}
