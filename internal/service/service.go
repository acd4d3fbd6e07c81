package service

import (
	"debate_arena/internal/repository"
	"debate_arena/internal/storage"
	"debate_arena/pkg/config"
)

type Services struct {
	User        *UserService
	Session     *SessionService
	Turn        *TurnCoordinator
	Judge       *JudgeCoordinator
	Invitation  *InvitationService
	RateLimiter *RateLimiter
	EventBus    *EventBus
}

// NewServices 按組合方式接起各協調器：
// 事件扇出、狀態重載這類跨組件的「怎麼做」都以窄接口注入
func NewServices(repos *repository.Repositories, pubsub storage.PubSub, judge Judge, cfg *config.Config) *Services {
	bus := NewEventBus(pubsub)
	notifier := newStateNotifier(repos.Session, bus)
	limiter := NewRateLimiter(repos.RateLimit)

	judgeCoord := NewJudgeCoordinator(repos.Session, repos.Turn, bus, notifier, judge, limiter, cfg.Judge, cfg.RateLimit)
	turnCoord := NewTurnCoordinator(repos.Session, repos.Turn, bus, notifier, judgeCoord)
	invitation := NewInvitationService(repos.Session)
	sessionService := NewSessionService(repos.Session, notifier, turnCoord, invitation)
	userService := NewUserService(repos.User)

	return &Services{
		User:        userService,
		Session:     sessionService,
		Turn:        turnCoord,
		Judge:       judgeCoord,
		Invitation:  invitation,
		RateLimiter: limiter,
		EventBus:    bus,
	}
}
