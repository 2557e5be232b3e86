package tokens

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NativePlaceholder 是聚合器约定的原生资产伪地址，精度固定为 18。
const NativePlaceholder = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// NativeDecimals 是原生资产的精度。
const NativeDecimals = 18

// Definition 描述一个常用代币。
type Definition struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// Registry 保存符号到代币定义的映射，符号匹配不区分大小写。
type Registry struct {
	bySymbol map[string]Definition
}

type registryFile struct {
	Tokens []Definition `yaml:"tokens"`
}

// Load 解析 YAML 格式的代币清单文件。
func Load(path string) (*Registry, error) {
	registry := &Registry{bySymbol: map[string]Definition{}}
	if strings.TrimSpace(path) == "" {
		return registry, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币清单失败: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析代币清单失败: %w", err)
	}

	for _, def := range file.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(def.Symbol))
		if symbol == "" || strings.TrimSpace(def.Address) == "" {
			continue
		}
		def.Symbol = symbol
		registry.bySymbol[symbol] = def
	}
	return registry, nil
}

// NewStatic 从给定定义构建注册表，主要用于测试。
func NewStatic(defs ...Definition) *Registry {
	registry := &Registry{bySymbol: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		symbol := strings.ToUpper(strings.TrimSpace(def.Symbol))
		if symbol == "" {
			continue
		}
		def.Symbol = symbol
		registry.bySymbol[symbol] = def
	}
	return registry
}

// Lookup 按符号查找代币定义。
func (r *Registry) Lookup(symbol string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return def, ok
}

// LookupByAddress 按地址反查代币定义。
func (r *Registry) LookupByAddress(address string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	for _, def := range r.bySymbol {
		if strings.EqualFold(def.Address, address) {
			return def, true
		}
	}
	return Definition{}, false
}

// Symbols 返回已注册的所有符号。
func (r *Registry) Symbols() []string {
	if r == nil {
		return nil
	}
	symbols := make([]string, 0, len(r.bySymbol))
	for symbol := range r.bySymbol {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// IsNative 判断地址是否为原生资产伪地址。
func IsNative(address string) bool {
	return strings.EqualFold(strings.TrimSpace(address), NativePlaceholder)
}
