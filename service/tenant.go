package service

import (
	"fmt"

	"github.com/luoxikang/wechat-work-archive/codec"
	"github.com/luoxikang/wechat-work-archive/config"
)

// Tenant 运行期的租户凭据，显式传给各组件
type Tenant struct {
	CorpID string
	Secret string
	Key    codec.TenantKey
}

// TenantSet 按 corp_id 索引
type TenantSet map[string]Tenant

// NewTenantSet 解析配置中的租户，EncodingAESKey 非法时返回错误
func NewTenantSet(cfgs []config.Tenant) (TenantSet, error) {
	set := make(TenantSet, len(cfgs))
	for _, c := range cfgs {
		key, err := codec.ParseEncodingAESKey(c.EncodingAESKey)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", c.CorpID, err)
		}
		set[c.CorpID] = Tenant{CorpID: c.CorpID, Secret: c.Secret, Key: key}
	}
	return set, nil
}

// Resolve corpID 为空且只有一个租户时返回该租户
func (s TenantSet) Resolve(corpID string) (Tenant, error) {
	if corpID == "" && len(s) == 1 {
		for _, t := range s {
			return t, nil
		}
	}
	t, ok := s[corpID]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %q", ErrUnknownTenant, corpID)
	}
	return t, nil
}

// CorpIDs 全部租户
func (s TenantSet) CorpIDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
