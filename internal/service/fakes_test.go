package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"debate_arena/internal/models"
	"debate_arena/internal/repository"
	"debate_arena/pkg/config"
)

// fakeStore 同時實現 SessionRepository 與 TurnRepository，
// 用互斥鎖模擬存儲層的原子條件更新與唯一約束
type fakeStore struct {
	mu       sync.Mutex
	sessions map[uint]models.Session
	turns    map[uint][]models.Turn
	nextID   uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uint]models.Session),
		turns:    make(map[uint][]models.Turn),
	}
}

func (s *fakeStore) Create(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	session.ID = s.nextID
	session.CreatedAt = time.Now()
	s.sessions[session.ID] = *session
	return nil
}

func (s *fakeStore) FindByID(id uint) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := session
	return &copied, nil
}

func (s *fakeStore) FindByIDWithTurns(id uint) (*models.Session, error) {
	session, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	turns, _ := s.FindBySession(id)
	session.Turns = turns
	return session, nil
}

func (s *fakeStore) Update(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *fakeStore) UpdateStatusIf(id uint, from, to models.SessionStatus, extra map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.Status != from {
		return false, nil
	}
	session.Status = to
	for key, value := range extra {
		applySessionField(&session, key, value)
	}
	s.sessions[id] = session
	return true, nil
}

func applySessionField(session *models.Session, key string, value interface{}) {
	switch key {
	case "winner":
		if value == nil {
			session.Winner = ""
		} else {
			session.Winner = value.(string)
		}
	case "verdict":
		if value == nil {
			session.Verdict = ""
		} else {
			session.Verdict = value.(string)
		}
	case "error_message":
		if value == nil {
			session.ErrorMessage = ""
		} else {
			session.ErrorMessage = value.(string)
		}
	case "failed_at":
		if value == nil {
			session.FailedAt = nil
		} else {
			t := value.(time.Time)
			session.FailedAt = &t
		}
	}
}

func (s *fakeStore) UpdateInvite(id uint, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	session.InviteToken = token
	session.InviteExpiresAt = expiresAt
	s.sessions[id] = session
	return nil
}

func (s *fakeStore) FindByStatus(status models.SessionStatus) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Session
	for _, session := range s.sessions {
		if session.Status == status {
			result = append(result, session)
		}
	}
	return result, nil
}

func (s *fakeStore) FindAll() ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Session
	for _, session := range s.sessions {
		result = append(result, session)
	}
	return result, nil
}

// CreateTurn 側的唯一約束：同會話同序號只允許一筆
func (s *fakeStore) CreateTurn(turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.turns[turn.SessionID] {
		if existing.OrderIndex == turn.OrderIndex {
			return repository.ErrTurnConflict
		}
	}
	s.nextID++
	turn.ID = s.nextID
	turn.CreatedAt = time.Now()
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], *turn)
	return nil
}

func (s *fakeStore) CountBySession(sessionID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.turns[sessionID])), nil
}

func (s *fakeStore) FindBySession(sessionID uint) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]models.Turn, len(s.turns[sessionID]))
	copy(turns, s.turns[sessionID])
	sort.Slice(turns, func(i, j int) bool { return turns[i].OrderIndex < turns[j].OrderIndex })
	return turns, nil
}

func (s *fakeStore) ExistsAt(sessionID uint, orderIndex int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, turn := range s.turns[sessionID] {
		if turn.OrderIndex == orderIndex {
			return true, nil
		}
	}
	return false, nil
}

// turnStore 讓 fakeStore 兼做 TurnRepository
type turnStore struct {
	*fakeStore
}

func (s turnStore) Create(turn *models.Turn) error {
	return s.CreateTurn(turn)
}

// fakeRateRepo 是限流計數存儲的記憶體版
type fakeRateRepo struct {
	mu      sync.Mutex
	entries map[string][]models.RateLimitEntry
	failing bool
}

func newFakeRateRepo() *fakeRateRepo {
	return &fakeRateRepo{entries: make(map[string][]models.RateLimitEntry)}
}

func (r *fakeRateRepo) PurgeBefore(key string, cutoff time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return gorm.ErrInvalidDB
	}
	kept := r.entries[key][:0]
	for _, entry := range r.entries[key] {
		if !entry.CreatedAt.Before(cutoff) {
			kept = append(kept, entry)
		}
	}
	r.entries[key] = kept
	return nil
}

func (r *fakeRateRepo) Count(key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return 0, gorm.ErrInvalidDB
	}
	return int64(len(r.entries[key])), nil
}

func (r *fakeRateRepo) Oldest(key string) (*models.RateLimitEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return nil, gorm.ErrInvalidDB
	}
	if len(r.entries[key]) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	oldest := r.entries[key][0]
	for _, entry := range r.entries[key] {
		if entry.CreatedAt.Before(oldest.CreatedAt) {
			oldest = entry
		}
	}
	return &oldest, nil
}

func (r *fakeRateRepo) Append(entry *models.RateLimitEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return gorm.ErrInvalidDB
	}
	r.entries[entry.Key] = append(r.entries[entry.Key], *entry)
	return nil
}

// fakeBus 記錄所有廣播出去的事件
type fakeBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	SessionID uint
	Type      string
	Payload   map[string]interface{}
}

func (b *fakeBus) Publish(ctx context.Context, sessionID uint, eventType string, payload map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{SessionID: sessionID, Type: eventType, Payload: payload})
	return nil
}

func (b *fakeBus) eventsOfType(eventType string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var result []recordedEvent
	for _, event := range b.events {
		if event.Type == eventType {
			result = append(result, event)
		}
	}
	return result
}

// fakePubSub 以同步回送模擬共用頻道，Publish 直接觸發訂閱者
type fakePubSub struct {
	mu       sync.Mutex
	handlers []func(payload string)
}

func (p *fakePubSub) Publish(ctx context.Context, channel string, payload string) error {
	p.mu.Lock()
	handlers := make([]func(string), len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()
	for _, handler := range handlers {
		handler(payload)
	}
	return nil
}

func (p *fakePubSub) Subscribe(ctx context.Context, channel string, handler func(payload string)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
	return nil
}

// fakeJudge 可配置的評審函數，記錄被呼叫次數
type fakeJudge struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, topic, transcript string) (*models.Verdict, error)
}

func (j *fakeJudge) Judge(ctx context.Context, topic, transcript string) (*models.Verdict, error) {
	j.mu.Lock()
	j.calls++
	fn := j.fn
	j.mu.Unlock()
	if fn == nil {
		return &models.Verdict{Winner: models.WinnerProponent, Reasoning: "預設裁決"}, nil
	}
	return fn(ctx, topic, transcript)
}

func (j *fakeJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

// testEnv 把各協調器按生產組合方式接起來，只是依賴換成記憶體假件
type testEnv struct {
	store      *fakeStore
	rate       *fakeRateRepo
	bus        *fakeBus
	judge      *fakeJudge
	limiter    *RateLimiter
	judgeCoord *JudgeCoordinator
	turnCoord  *TurnCoordinator
	sessions   *SessionService
	invitation *InvitationService
}

func newTestEnv() *testEnv {
	return newTestEnvWithTimeout(5)
}

func configJudge(timeoutSeconds int) config.JudgeConfig {
	return config.JudgeConfig{TimeoutSeconds: timeoutSeconds}
}

func configLimits() config.RateLimitConfig {
	return config.RateLimitConfig{
		SubmitQuota: 100, SubmitWindowSeconds: 60,
		JudgeQuota: 100, JudgeWindowSeconds: 60,
	}
}

func newTestEnvWithTimeout(judgeTimeoutSeconds int) *testEnv {
	store := newFakeStore()
	rate := newFakeRateRepo()
	bus := &fakeBus{}
	fj := &fakeJudge{}

	notifier := newStateNotifier(store, bus)
	limiter := NewRateLimiter(rate)
	judgeCfg := configJudge(judgeTimeoutSeconds)
	limits := configLimits()

	judgeCoord := NewJudgeCoordinator(store, turnStore{store}, bus, notifier, fj, limiter, judgeCfg, limits)
	turnCoord := NewTurnCoordinator(store, turnStore{store}, bus, notifier, judgeCoord)
	invitation := NewInvitationService(store)
	sessions := NewSessionService(store, notifier, turnCoord, invitation)

	return &testEnv{
		store:      store,
		rate:       rate,
		bus:        bus,
		judge:      fj,
		limiter:    limiter,
		judgeCoord: judgeCoord,
		turnCoord:  turnCoord,
		sessions:   sessions,
		invitation: invitation,
	}
}

// runningSession 建好一場雙方就位、已啟動的辯論
func (e *testEnv) runningSession(ctx context.Context, rounds int) *models.Session {
	session, err := e.sessions.CreateSession(ctx, "全民基本收入是否可行", rounds, 1, 1, 2)
	if err != nil {
		panic(err)
	}
	if err := e.sessions.StartSession(ctx, session.ID); err != nil {
		panic(err)
	}
	refreshed, err := e.store.FindByID(session.ID)
	if err != nil {
		panic(err)
	}
	return refreshed
}
