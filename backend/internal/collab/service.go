package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrDocumentNotFound = errors.New("DOCUMENT_NOT_FOUND")

// AppliedOp 是服务端接受并编号后的操作（含 transform 结果）。
type AppliedOp struct {
	Operation Operation `json:"operation"`
	Revision  uint64    `json:"revision"` // 全局版本号，严格 +1 递增
	AppliedAt time.Time `json:"appliedAt"`
}

// Document 是某一时刻的文档快照（深拷贝，调用方可随意持有）。
type Document struct {
	ID        string      `json:"id"`
	Content   *Node       `json:"content"`
	Revision  uint64      `json:"revision"`
	Log       []AppliedOp `json:"operationLog"`
	CreatedBy string      `json:"createdBy"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Comment 挂在文档某条路径上，不走 OT。
type Comment struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"authorId"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
	Range     *[2]int   `json:"range,omitempty"`
}

// Broadcaster 在操作成功应用后被同步回调（仍持有该文档的锁），
// 因此扇出顺序必然等于 revision 顺序。实现方不得阻塞。
type Broadcaster interface {
	OperationApplied(docID string, op AppliedOp)
}

// Service 协作引擎接口
type Service interface {
	// CreateDocument 幂等：已存在则原样返回，绝不覆盖。
	CreateDocument(ctx context.Context, id string, initial *Node, authorID string) (Document, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	CurrentRevision(ctx context.Context, id string) (uint64, error)

	// Apply 对 op 做 transform（相对 op.BaseRevision 之后的并发操作），
	// 成功则 revision+1 并追加操作日志；失败不留任何痕迹。
	Apply(ctx context.Context, docID string, op Operation) (AppliedOp, error)

	// OpsSince 返回 revision > fromRevision 的全部操作，用于断线重连追平。
	OpsSince(ctx context.Context, docID string, fromRevision uint64) ([]AppliedOp, error)

	AddComment(ctx context.Context, docID string, c Comment) (Comment, error)
	ResolveComment(ctx context.Context, docID, commentID string) error
	Comments(ctx context.Context, docID string) ([]Comment, error)
}

type docState struct {
	mu        sync.Mutex
	content   *Node
	initial   *Node // 创建时的内容，重放校验用
	revision  uint64
	log       []AppliedOp
	comments  []Comment
	createdBy string
	createdAt time.Time
}

// InMemoryService 持有所有文档的内存态。
// docs 表自身用读写锁保护；每个文档的 {content, revision, log, comments}
// 由该文档自己的互斥锁串行化，不同文档互不阻塞。
type InMemoryService struct {
	mu   sync.RWMutex
	docs map[string]*docState

	broadcaster Broadcaster
}

func NewInMemoryService() *InMemoryService {
	return &InMemoryService{docs: make(map[string]*docState)}
}

// SetBroadcaster 在启动期装配一次；热路径上不加锁读取。
func (s *InMemoryService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

func (s *InMemoryService) getDoc(id string) *docState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[id]
}

func (s *InMemoryService) CreateDocument(ctx context.Context, id string, initial *Node, authorID string) (Document, error) {
	if initial == nil {
		initial = ObjNode()
	}
	s.mu.Lock()
	ds := s.docs[id]
	if ds == nil {
		ds = &docState{
			content:   initial.Clone(),
			initial:   initial.Clone(),
			createdBy: authorID,
			createdAt: time.Now(),
		}
		s.docs[id] = ds
	}
	s.mu.Unlock()
	return s.snapshot(id, ds), nil
}

func (s *InMemoryService) GetDocument(ctx context.Context, id string) (Document, error) {
	ds := s.getDoc(id)
	if ds == nil {
		return Document{}, ErrDocumentNotFound
	}
	return s.snapshot(id, ds), nil
}

func (s *InMemoryService) snapshot(id string, ds *docState) Document {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	log := make([]AppliedOp, len(ds.log))
	copy(log, ds.log)
	return Document{
		ID:        id,
		Content:   ds.content.Clone(),
		Revision:  ds.revision,
		Log:       log,
		CreatedBy: ds.createdBy,
		CreatedAt: ds.createdAt,
	}
}

func (s *InMemoryService) CurrentRevision(ctx context.Context, id string) (uint64, error) {
	ds := s.getDoc(id)
	if ds == nil {
		return 0, ErrDocumentNotFound
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.revision, nil
}

func (s *InMemoryService) Apply(ctx context.Context, docID string, op Operation) (AppliedOp, error) {
	if err := op.Validate(); err != nil {
		return AppliedOp{}, err
	}
	ds := s.getDoc(docID)
	if ds == nil {
		return AppliedOp{}, ErrDocumentNotFound
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	// baseRevision 之后的操作就是作者没见过的并发操作，
	// revision 即日志下标+1，直接切片取尾部。
	var concurrent []Operation
	if op.BaseRevision < ds.revision {
		for _, a := range ds.log[op.BaseRevision:] {
			concurrent = append(concurrent, a.Operation)
		}
	}
	transformed := TransformOperation(op, concurrent)

	if err := transformed.Apply(ds.content); err != nil {
		return AppliedOp{}, err
	}

	ds.revision++
	applied := AppliedOp{Operation: transformed, Revision: ds.revision, AppliedAt: time.Now()}
	ds.log = append(ds.log, applied)

	// 仍持有 ds.mu：广播顺序与 revision 顺序一致。
	if s.broadcaster != nil {
		s.broadcaster.OperationApplied(docID, applied)
	}
	return applied, nil
}

func (s *InMemoryService) OpsSince(ctx context.Context, docID string, fromRevision uint64) ([]AppliedOp, error) {
	ds := s.getDoc(docID)
	if ds == nil {
		return nil, ErrDocumentNotFound
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var out []AppliedOp
	for _, a := range ds.log {
		if a.Revision > fromRevision {
			out = append(out, a)
		}
	}
	return out, nil
}

// Replay 从初始内容重放整条操作日志，返回得到的内容树。
// 日志是确定性的：重放结果必须与当前内容一致。
func (s *InMemoryService) Replay(ctx context.Context, docID string) (*Node, error) {
	ds := s.getDoc(docID)
	if ds == nil {
		return nil, ErrDocumentNotFound
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	root := ds.initial.Clone()
	for _, a := range ds.log {
		if err := a.Operation.Apply(root); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func (s *InMemoryService) AddComment(ctx context.Context, docID string, c Comment) (Comment, error) {
	ds := s.getDoc(docID)
	if ds == nil {
		return Comment{}, ErrDocumentNotFound
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.comments = append(ds.comments, c)
	return c, nil
}

func (s *InMemoryService) ResolveComment(ctx context.Context, docID, commentID string) error {
	ds := s.getDoc(docID)
	if ds == nil {
		return ErrDocumentNotFound
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for i := range ds.comments {
		if ds.comments[i].ID == commentID {
			ds.comments[i].Resolved = true
			return nil
		}
	}
	return errors.New("COMMENT_NOT_FOUND")
}

func (s *InMemoryService) Comments(ctx context.Context, docID string) ([]Comment, error) {
	ds := s.getDoc(docID)
	if ds == nil {
		return nil, ErrDocumentNotFound
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	out := make([]Comment, len(ds.comments))
	copy(out, ds.comments)
	return out, nil
}
