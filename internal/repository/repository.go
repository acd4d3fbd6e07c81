package repository

import "debate_arena/internal/storage"

type Repositories struct {
	User      UserRepository
	Session   SessionRepository
	Turn      TurnRepository
	RateLimit RateLimitRepository
}

func NewRepositories(db *storage.PostgresDB) *Repositories {
	return &Repositories{
		User:      NewUserRepository(db),
		Session:   NewSessionRepository(db),
		Turn:      NewTurnRepository(db),
		RateLimit: NewRateLimitRepository(db),
	}
}
