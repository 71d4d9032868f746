package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/talkincode/whatshttp/internal/session"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, err := time.LoadLocation(a.appConfig.System.Location)
	if err != nil {
		loc = time.UTC
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	if a.appConfig.Whatsapp.OrphanTTL > 0 {
		_, err = a.sched.AddFunc("@every 5m", a.SchedSweepOrphans)
		if err != nil {
			zap.S().Errorf("init job error %s", err.Error())
		}
	}

	_, err = a.sched.AddFunc("@every 1m", a.SchedSessionStats)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedSweepOrphans removes records of clients that never finished pairing
func (a *Application) SchedSweepOrphans() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := a.registry.SweepOrphans(ctx, a.appConfig.Whatsapp.OrphanTTL)
	if err != nil {
		zap.L().Error("orphan sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("orphan clients removed", zap.Int("count", n))
	}
}

// SchedSessionStats logs live session counts per state
func (a *Application) SchedSessionStats() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	counts := make(map[session.State]int)
	infos := a.registry.Snapshot()
	for _, info := range infos {
		counts[info.State]++
	}
	zap.L().Debug("session stats",
		zap.Int("live", len(infos)),
		zap.Int("ready", counts[session.StateReady]),
		zap.Int("awaiting_pairing", counts[session.StateAwaitingPairing]),
		zap.Int("creating", counts[session.StateCreating]),
		zap.Int("disconnected", counts[session.StateDisconnected]),
		zap.Int("webhook_running", a.dispatcher.Running()))
}
