// Package storage архивирует ретранслируемые сообщения и NOTICE в Postgres.
package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/model"
)

const schema = `
create table if not exists chat_messages (
  message_id   text primary key,
  channel      text not null,
  channel_id   text,
  user_id      text not null,
  username     text not null,
  display_name text,
  text         text not null,
  badges       jsonb not null default '[]',
  color        text not null,
  sent_at      timestamptz not null
);
create index if not exists chat_messages_channel_sent_at on chat_messages (channel, sent_at);
create table if not exists channel_notices (
  id        bigserial primary key,
  channel   text not null,
  msg_id    text,
  message   text not null,
  tags      jsonb,
  notice_at timestamptz not null
);`

// Archive — запись сообщений чата через батчер и NOTICE напрямую. Ошибки архива только логируются.
type Archive struct {
	batcher *Batcher
	db      execer
	timeout time.Duration
	logger  *slog.Logger
}

// Open подключается к Postgres, создаёт таблицы и запускает батчер.
// Пул закрывается после отмены ctx и финального флаша.
func Open(ctx context.Context, dsn string, cfg BatchConfig, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code(errutil.CodeConfig).Wrapf(err, "archive: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code(errutil.CodeTransport).Wrapf(err, "archive: ping")
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	a := newArchive(ctx, pool, pool, cfg, logger)
	go func() {
		<-a.batcher.Done()
		pool.Close()
	}()
	return a, nil
}

// EnsureSchema создаёт таблицы архива, если их нет.
func EnsureSchema(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return oops.Wrapf(err, "archive: ensure schema")
	}
	return nil
}

func newArchive(ctx context.Context, sender batchSender, db execer, cfg BatchConfig, logger *slog.Logger) *Archive {
	return &Archive{
		batcher: newBatcher(ctx, sender, cfg, logger),
		db:      db,
		timeout: cfg.FlushTimeout,
		logger:  logger,
	}
}

// ArchiveChat ставит сообщение в очередь батчера.
func (a *Archive) ArchiveChat(_ context.Context, msg model.ChatMessage) {
	if ok := a.batcher.Enqueue(msg); !ok {
		a.logger.Debug("archive: сообщение отброшено", "channel", msg.Channel, "message_id", msg.MessageID)
	}
}

// ArchiveNotice сохраняет NOTICE с таймаутом.
func (a *Archive) ArchiveNotice(ctx context.Context, notice model.Notice) {
	if err := SaveNotice(ctx, a.db, notice, a.timeout); err != nil {
		a.logger.Error("archive: ошибка сохранения NOTICE", "channel", notice.Channel, "error", err)
	}
}

// Dropped возвращает число сообщений, не попавших в очередь.
func (a *Archive) Dropped() uint64 {
	return a.batcher.Dropped()
}
