package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PubSub 是跨進程事件通道的窄契約：至少一次送達，
// 不保證跨發布者的順序，也沒有送達確認。
type PubSub interface {
	Publish(ctx context.Context, channel string, payload string) error
	Subscribe(ctx context.Context, channel string, handler func(payload string)) error
}

// PostgresPubSub 用 Postgres 的 LISTEN/NOTIFY 實現叢集範圍的發布訂閱。
// 發布走連接池，訂閱用一條專屬連線阻塞等待通知。
type PostgresPubSub struct {
	pool *pgxpool.Pool
	dsn  string
}

func NewPostgresPubSub(ctx context.Context, dsn string) (*PostgresPubSub, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub pool: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping pubsub database: %v", err)
	}

	return &PostgresPubSub{pool: pool, dsn: dsn}, nil
}

func (p *PostgresPubSub) Publish(ctx context.Context, channel string, payload string) error {
	_, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return err
}

// Subscribe 在背景 goroutine 中持續接收通知並逐筆交給 handler。
// 連線中斷時會自動重連，期間送出的事件會丟失（至少一次是就整體而言）。
func (p *PostgresPubSub) Subscribe(ctx context.Context, channel string, handler func(payload string)) error {
	conn, err := p.listen(ctx, channel)
	if err != nil {
		return err
	}

	go func() {
		defer func() {
			if conn != nil {
				_ = conn.Close(context.Background())
			}
		}()

		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[pubsub] wait for notification failed: %v, reconnecting", err)
				_ = conn.Close(context.Background())
				conn = p.reconnect(ctx, channel)
				if conn == nil {
					return
				}
				continue
			}
			handler(notification.Payload)
		}
	}()

	return nil
}

func (p *PostgresPubSub) listen(ctx context.Context, channel string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open listen connection: %v", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to listen on channel %s: %v", channel, err)
	}

	return conn, nil
}

func (p *PostgresPubSub) reconnect(ctx context.Context, channel string) *pgx.Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(3 * time.Second):
		}

		conn, err := p.listen(ctx, channel)
		if err != nil {
			log.Printf("[pubsub] reconnect failed: %v", err)
			continue
		}
		return conn
	}
}

func (p *PostgresPubSub) Close() {
	p.pool.Close()
}
