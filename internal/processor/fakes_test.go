package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/embedding"

	"cv-match-go/internal/storage/models"
	"cv-match-go/internal/types"
)

// 测试用的内存版依赖实现

type fakeCandidateStore struct {
	mu         sync.Mutex
	candidates map[string]*types.CandidateRecord
	saveErr    error
	saved      []*types.CandidateRecord
}

func newFakeCandidateStore(candidates ...*types.CandidateRecord) *fakeCandidateStore {
	s := &fakeCandidateStore{candidates: make(map[string]*types.CandidateRecord)}
	for _, c := range candidates {
		s.candidates[c.CandidateID] = c
	}
	return s
}

func (s *fakeCandidateStore) SaveCandidate(_ context.Context, rec *types.CandidateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.candidates[rec.CandidateID] = rec
	s.saved = append(s.saved, rec)
	return nil
}

func (s *fakeCandidateStore) GetCandidateByID(_ context.Context, candidateID string) (*types.CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates[candidateID], nil
}

func (s *fakeCandidateStore) ListCandidates(_ context.Context, offset, limit int) ([]*types.CandidateRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.CandidateRecord, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, c)
	}
	return out, int64(len(out)), nil
}

func (s *fakeCandidateStore) DeleteCandidate(_ context.Context, candidateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.candidates, candidateID)
	return nil
}

func (s *fakeCandidateStore) FindEmbeddedCandidates(_ context.Context, _ types.SearchFilters) ([]*types.CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 粗筛交给SQL层，测试里返回全部已向量化候选人
	out := make([]*types.CandidateRecord, 0, len(s.candidates))
	for _, c := range s.candidates {
		if len(c.Embedding) > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*types.JobPosting
}

func newFakeJobStore(jobs ...*types.JobPosting) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[string]*types.JobPosting)}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *fakeJobStore) CreateJob(_ context.Context, p *types.JobPosting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[p.JobID] = p
	return nil
}

func (s *fakeJobStore) UpdateJob(_ context.Context, p *types.JobPosting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[p.JobID] = p
	return nil
}

func (s *fakeJobStore) GetJobByID(_ context.Context, jobID string) (*types.JobPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID], nil
}

func (s *fakeJobStore) ListActiveJobs(_ context.Context) ([]*types.JobPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.JobPosting, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Active {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *fakeJobStore) SoftDeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.Active = false
	}
	return nil
}

type fakeMatchStore struct {
	mu      sync.Mutex
	rows    map[string]*models.CandidateJobMatch
	upserts int
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{rows: make(map[string]*models.CandidateJobMatch)}
}

func matchKey(candidateID, jobID string) string {
	return candidateID + "|" + jobID
}

func (s *fakeMatchStore) GetMatch(_ context.Context, candidateID, jobID string) (*models.CandidateJobMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[matchKey(candidateID, jobID)], nil
}

func (s *fakeMatchStore) UpsertMatch(_ context.Context, row *models.CandidateJobMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.rows[matchKey(row.CandidateID, row.JobID)] = row
	return nil
}

func (s *fakeMatchStore) ListMatchesForJob(_ context.Context, jobID string) ([]models.CandidateJobMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CandidateJobMatch
	for _, row := range s.rows {
		if row.JobID == jobID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *fakeMatchStore) ListMatchesForCandidate(_ context.Context, candidateID string) ([]models.CandidateJobMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CandidateJobMatch
	for _, row := range s.rows {
		if row.CandidateID == candidateID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *fakeMatchStore) ResetMatches(_ context.Context, jobID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, row := range s.rows {
		if jobID == "" || row.JobID == jobID {
			delete(s.rows, key)
			n++
		}
	}
	return n, nil
}

type fakeEmbedder struct {
	mu     sync.Mutex
	vector []float64
	err    error
	calls  int
}

func (e *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func (e *fakeEmbedder) GetDimensions() int { return len(e.vector) }

type fakeVectorCache struct {
	mu    sync.Mutex
	store map[string][]float64
	gets  int
	hits  int
}

func newFakeVectorCache() *fakeVectorCache {
	return &fakeVectorCache{store: make(map[string][]float64)}
}

func (c *fakeVectorCache) GetQueryEmbedding(_ context.Context, queryMD5 string) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if vec, ok := c.store[queryMD5]; ok {
		c.hits++
		return vec, nil
	}
	return nil, nil
}

func (c *fakeVectorCache) SetQueryEmbedding(_ context.Context, queryMD5 string, vec []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[queryMD5] = vec
	return nil
}

type fakeDedupeStore struct {
	mu      sync.Mutex
	seen    map[string]bool
	removed []string
}

func newFakeDedupeStore() *fakeDedupeStore {
	return &fakeDedupeStore{seen: make(map[string]bool)}
}

func (d *fakeDedupeStore) CheckAndAddParsedTextMD5(_ context.Context, md5Hex string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[md5Hex] {
		return true, nil
	}
	d.seen[md5Hex] = true
	return false, nil
}

func (d *fakeDedupeStore) RemoveParsedTextMD5(_ context.Context, md5Hex string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, md5Hex)
	d.removed = append(d.removed, md5Hex)
	return nil
}

type fakeEvaluator struct {
	mu     sync.Mutex
	result *types.MatchResult
	err    error
	calls  int
}

func (e *fakeEvaluator) EvaluateMatch(_ context.Context, _, _ string) (*types.MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	cp := *e.result
	return &cp, nil
}

type fakeTextExtractor struct {
	text string
	err  error
}

func (f *fakeTextExtractor) ExtractFromFile(_ context.Context, _ string) (string, error) {
	return f.text, f.err
}

type fakeImageExtractor struct {
	images [][]byte
	err    error
	calls  int
}

func (f *fakeImageExtractor) ExtractPageImages(_ context.Context, _ string) ([][]byte, error) {
	f.calls++
	return f.images, f.err
}

type fakeStructurer struct {
	textRecord   *types.CandidateRecord
	textErr      error
	visionRecord *types.CandidateRecord
	visionErr    error
	textCalls    int
	visionCalls  int
}

func (f *fakeStructurer) ExtractFromText(_ context.Context, _ string) (*types.CandidateRecord, error) {
	f.textCalls++
	if f.textErr != nil {
		return nil, f.textErr
	}
	cp := *f.textRecord
	return &cp, nil
}

func (f *fakeStructurer) ExtractFromImages(_ context.Context, _ [][]byte) (*types.CandidateRecord, error) {
	f.visionCalls++
	if f.visionErr != nil {
		return nil, f.visionErr
	}
	cp := *f.visionRecord
	return &cp, nil
}

type fakeFileStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{objects: make(map[string][]byte)}
}

func (f *fakeFileStore) UploadCVFile(_ context.Context, objectName string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.objects[objectName] = data
	return fmt.Sprintf("test-bucket/%s", objectName), nil
}
