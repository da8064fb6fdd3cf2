package merge

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabEngine/backend/internal/collab"
)

var (
	ErrUnresolvedMerge  = errors.New("UNRESOLVED_MERGE")
	ErrConflictResolved = errors.New("CONFLICT_ALREADY_RESOLVED")
)

// Conflict 生命周期：Detected → Resolved，没有 rejected 终态。
// resolved=true 后挂上 resolution，保留到清理扫描为止。
type Conflict struct {
	ID               string           `json:"id"`
	DocumentID       string           `json:"documentId"`
	V1               DocumentVersion  `json:"version1"`
	V2               DocumentVersion  `json:"version2"`
	ConflictingPaths []string         `json:"conflictingPaths"`
	Resolved         bool             `json:"resolved"`
	Resolution       *DocumentVersion `json:"resolution,omitempty"`
	DetectedAt       time.Time        `json:"detectedAt"`
	ResolvedAt       time.Time        `json:"resolvedAt,omitempty"`
}

type MergeResult struct {
	Version         DocumentVersion `json:"mergedVersion"`
	Strategy        string          `json:"strategy"`
	UnresolvedPaths []string        `json:"unresolvedPaths,omitempty"`
}

type Diff struct {
	V1 any `json:"v1"`
	V2 any `json:"v2"`
}

// Resolver 持有进程级冲突表。
// 三方合并策略二选一（结论见 DESIGN.md）：
// 默认 fail-closed——存在真分歧就拒绝合并并返回 ErrUnresolvedMerge；
// WithDefaultBias 切到 fail-open——按 v1 偏置合并并附上分歧清单，两种行为全局一致。
type Resolver struct {
	mu        sync.Mutex
	conflicts map[string]*Conflict

	defaultBias bool
}

type Option func(*Resolver)

func WithDefaultBias() Option {
	return func(r *Resolver) { r.defaultBias = true }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{conflicts: make(map[string]*Conflict)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// DetectConflicts 递归比对两棵内容树；没有任何路径不同时返回 nil。
// 指纹相同直接短路（指纹只是预判，不同才可信，相同仍需全量比对——
// 这里反过来用：树相等性用 Equal 兜底）。
func (r *Resolver) DetectConflicts(v1, v2 DocumentVersion) *Conflict {
	if v1.Hash == v2.Hash && v1.Content.Equal(v2.Content) {
		return nil
	}
	paths := diffPaths(v1.Content, v2.Content, "")
	if len(paths) == 0 {
		return nil
	}
	sort.Strings(paths)
	c := &Conflict{
		ID:               uuid.NewString(),
		DocumentID:       v1.DocumentID,
		V1:               v1,
		V2:               v2,
		ConflictingPaths: paths,
		DetectedAt:       time.Now(),
	}
	r.mu.Lock()
	r.conflicts[c.ID] = c
	r.mu.Unlock()
	return c
}

func (r *Resolver) Get(id string) (*Conflict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

func (r *Resolver) List() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// PurgeResolved 清理扫描：移除已解决且解决时间早于 olderThan 的冲突。
func (r *Resolver) PurgeResolved(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.conflicts {
		if c.Resolved && c.ResolvedAt.Before(cutoff) {
			delete(r.conflicts, id)
			n++
		}
	}
	return n
}

// ResolveLWW 时间戳新者全胜：内容取 createdAt 较大的一方，
// 合并版本号 = max(v1, v2) + 1。
func (r *Resolver) ResolveLWW(conflictID string) (MergeResult, error) {
	return r.resolve(conflictID, "lww", func(c *Conflict) (*collab.Node, []string, error) {
		winner := c.V1
		if c.V2.CreatedAt.After(c.V1.CreatedAt) {
			winner = c.V2
		}
		return winner.Content.Clone(), nil, nil
	})
}

// ResolveThreeWay 以 base 为公共祖先，对 base/v1/v2 逐键合并：
// v1==v2 取其一；只有一边偏离 base 取偏离侧；两边都偏离且互不相同记为分歧。
func (r *Resolver) ResolveThreeWay(conflictID string, base DocumentVersion) (MergeResult, error) {
	return r.resolve(conflictID, "three-way", func(c *Conflict) (*collab.Node, []string, error) {
		merged, unresolved := threeWay(base.Content, c.V1.Content, c.V2.Content, "")
		if len(unresolved) > 0 && !r.defaultBias {
			sort.Strings(unresolved)
			return nil, nil, fmt.Errorf("%w: %v", ErrUnresolvedMerge, unresolved)
		}
		sort.Strings(unresolved)
		return merged, unresolved, nil
	})
}

// ResolveCustom 把合并决策完全交给调用方提供的纯函数。
func (r *Resolver) ResolveCustom(conflictID string, fn func(v1, v2 DocumentVersion) (*collab.Node, error)) (MergeResult, error) {
	return r.resolve(conflictID, "custom", func(c *Conflict) (*collab.Node, []string, error) {
		merged, err := fn(c.V1, c.V2)
		if err != nil {
			return nil, nil, err
		}
		return merged, nil, nil
	})
}

// ResolveByPathPriority 按路径指定取哪一方（1 或 2），未指定路径默认取 v1。
func (r *Resolver) ResolveByPathPriority(conflictID string, priority map[string]int) (MergeResult, error) {
	return r.resolve(conflictID, "path-priority", func(c *Conflict) (*collab.Node, []string, error) {
		merged := c.V1.Content.Clone()
		for path, side := range priority {
			if side != 2 {
				continue
			}
			p := collab.ParsePath(path)
			v, err := c.V2.Content.Lookup(p)
			if err != nil {
				continue
			}
			op := collab.Operation{Kind: collab.OpUpdate, Path: p, Value: v.Clone(), ClientID: "resolver"}
			// 路径在 v1 里可能不存在：先 update，失败再按 insert 建出来
			if aerr := applyValue(merged, op); aerr != nil {
				return nil, nil, aerr
			}
		}
		return merged, nil, nil
	})
}

// CalculateMergeDiff 诊断视图：path → 双方取值。不含共同祖先值。
func (r *Resolver) CalculateMergeDiff(v1, v2 DocumentVersion) map[string]Diff {
	out := make(map[string]Diff)
	for _, path := range diffPaths(v1.Content, v2.Content, "") {
		p := collab.ParsePath(path)
		var a, b any
		if n, err := v1.Content.Lookup(p); err == nil {
			a = n.ToAny()
		}
		if n, err := v2.Content.Lookup(p); err == nil {
			b = n.ToAny()
		}
		out[path] = Diff{V1: a, V2: b}
	}
	return out
}

// resolve 统一收口：任何策略成功都置 resolved=true 并挂上 resolution。
// resolved=true 是终态：重复 resolve 返回 ErrConflictResolved，不覆盖已有结果。
func (r *Resolver) resolve(conflictID, strategy string, fn func(*Conflict) (*collab.Node, []string, error)) (MergeResult, error) {
	r.mu.Lock()
	c, ok := r.conflicts[conflictID]
	if ok && c.Resolved {
		r.mu.Unlock()
		return MergeResult{}, ErrConflictResolved
	}
	r.mu.Unlock()
	if !ok {
		return MergeResult{}, errors.New("CONFLICT_NOT_FOUND")
	}

	content, unresolved, err := fn(c)
	if err != nil {
		return MergeResult{}, err
	}

	rev := c.V1.Revision
	if c.V2.Revision > rev {
		rev = c.V2.Revision
	}
	merged := NewVersion(c.DocumentID, rev+1, content, nil, "resolver")

	r.mu.Lock()
	// 两个 resolve 并发通过了上面的检查：先提交者胜出
	if c.Resolved {
		r.mu.Unlock()
		return MergeResult{}, ErrConflictResolved
	}
	c.Resolved = true
	c.Resolution = &merged
	c.ResolvedAt = time.Now()
	r.mu.Unlock()

	return MergeResult{Version: merged, Strategy: strategy, UnresolvedPaths: unresolved}, nil
}

func applyValue(root *collab.Node, op collab.Operation) error {
	if err := op.Apply(root); err == nil {
		return nil
	}
	ins := op
	ins.Kind = collab.OpInsert
	return ins.Apply(root)
}

// diffPaths 收集两棵树上取值不同的叶子路径。
// 对象逐键比（并集），数组逐下标比，类型不同或标量不等即叶子冲突。
func diffPaths(a, b *collab.Node, prefix string) []string {
	join := func(seg string) string {
		if prefix == "" {
			return seg
		}
		return prefix + "." + seg
	}

	if a == nil || b == nil {
		if a.Equal(b) {
			return nil
		}
		return []string{prefix}
	}
	if a.Kind != b.Kind {
		if prefix == "" {
			return []string{"."}
		}
		return []string{prefix}
	}
	switch a.Kind {
	case collab.KindObject:
		var out []string
		seen := make(map[string]struct{})
		for k, av := range a.Obj {
			seen[k] = struct{}{}
			if bv, ok := b.Obj[k]; ok {
				out = append(out, diffPaths(av, bv, join(k))...)
			} else {
				out = append(out, join(k))
			}
		}
		for k := range b.Obj {
			if _, ok := seen[k]; !ok {
				out = append(out, join(k))
			}
		}
		return out
	case collab.KindArray:
		var out []string
		n := len(a.Arr)
		if len(b.Arr) > n {
			n = len(b.Arr)
		}
		for i := 0; i < n; i++ {
			seg := join(strconv.Itoa(i))
			switch {
			case i >= len(a.Arr) || i >= len(b.Arr):
				out = append(out, seg)
			default:
				out = append(out, diffPaths(a.Arr[i], b.Arr[i], seg)...)
			}
		}
		return out
	default:
		if a.Equal(b) {
			return nil
		}
		if prefix == "" {
			return []string{"."}
		}
		return []string{prefix}
	}
}

// threeWay 返回合并树与真分歧路径（两侧都偏离 base 且互不相同，默认取 v1）。
func threeWay(base, v1, v2 *collab.Node, prefix string) (*collab.Node, []string) {
	join := func(seg string) string {
		if prefix == "" {
			return seg
		}
		return prefix + "." + seg
	}

	// 两边已一致（含双方做了相同修改）
	if v1.Equal(v2) {
		return v1.Clone(), nil
	}
	// 只有一边偏离祖先：取偏离侧
	if v1.Equal(base) {
		return v2.Clone(), nil
	}
	if v2.Equal(base) {
		return v1.Clone(), nil
	}
	// 双方都动了。对象可以继续往下逐键合；其他类型到此为叶子分歧。
	if v1 != nil && v2 != nil && v1.Kind == collab.KindObject && v2.Kind == collab.KindObject {
		merged := collab.ObjNode()
		var unresolved []string
		keys := make(map[string]struct{})
		for k := range v1.Obj {
			keys[k] = struct{}{}
		}
		for k := range v2.Obj {
			keys[k] = struct{}{}
		}
		for k := range keys {
			var bv, a, b *collab.Node
			if base != nil && base.Kind == collab.KindObject {
				bv = base.Obj[k]
			}
			a, b = v1.Obj[k], v2.Obj[k]
			switch {
			case a == nil && b == nil:
				// 双方都删了
			case a == nil:
				// v1 删除。v2 未动则删除生效；v2 也改了就是真分歧，默认随 v1（删）。
				if !bv.Equal(b) {
					unresolved = append(unresolved, join(k))
				}
			case b == nil:
				// v2 删除。v1 未动则删除生效；v1 也改了则保留 v1 并记分歧。
				if !bv.Equal(a) {
					merged.Obj[k] = a.Clone()
					unresolved = append(unresolved, join(k))
				}
			default:
				child, u := threeWay(bv, a, b, join(k))
				merged.Obj[k] = child
				unresolved = append(unresolved, u...)
			}
		}
		return merged, unresolved
	}
	p := prefix
	if p == "" {
		p = "."
	}
	return v1.Clone(), []string{p}
}
