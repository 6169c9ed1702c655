package main

import (
	mgocfg "IMStore/data/database/mgo/mongoutil"
	"IMStore/global"
	"IMStore/logger"
	"IMStore/module/msg/history"
	"IMStore/module/msg/idem"
	"IMStore/module/msg/retention"
	"IMStore/module/msg/router"
	"IMStore/module/msg/seq"
	msgservice "IMStore/module/msg/service"
	"IMStore/module/msg/store"
	"IMStore/module/msg/timeline"
	"IMStore/service/kafka"
	"IMStore/service/mgo"
	"IMStore/service/natsx"
	redissvc "IMStore/service/storage/redis"
	"IMStore/tools/safe"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := global.Global.Retention
	if err := cfg.Validate(); err != nil {
		logger.Error("bad retention config", zap.Error(err))
		os.Exit(1)
	}

	// ===== Mongo（必选，异步起连 + 等首次就绪）=====
	mgo.StartAsync(ctx, &mgocfg.Config{
		Uri:         env("IM_MONGO_URI", "mongodb://127.0.0.1:27017"),
		Database:    env("IM_MONGO_DB", "im_message_store"),
		MaxPoolSize: 100,
		MaxRetry:    3,
	})
	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	err := mgo.WaitReady(waitCtx)
	waitCancel()
	if err != nil {
		logger.Error("mongo not ready", zap.Error(err), zap.NamedError("lastErr", mgo.Err()))
		os.Exit(1)
	}
	db := mgo.GetDB()

	r := router.New(cfg.HashPartitionCount)
	window := time.Duration(cfg.IdempotencyWindowDays) * 24 * time.Hour

	// ===== Redis（可选：幂等读穿缓存）=====
	var idemOpts []idem.Option
	idemOpts = append(idemOpts, idem.WithWindow(window))
	if addr := os.Getenv("IM_REDIS_ADDR"); addr != "" {
		if err := redissvc.InitRedis(redissvc.Config{
			Addr:     addr,
			Password: os.Getenv("IM_REDIS_PASSWORD"),
			PoolSize: 50,
		}); err != nil {
			logger.Warn("redis init failed, idempotency runs without cache", zap.Error(err))
		} else {
			idemOpts = append(idemOpts, idem.WithCache(idem.NewRedisCache(redissvc.GetRedis())))
			defer func() { _ = redissvc.CloseRedis() }()
		}
	}

	// ===== Kafka（可选：下游事件流）=====
	var pub msgservice.Publisher = msgservice.NoopPublisher{}
	if brokers := os.Getenv("IM_KAFKA_BROKERS"); brokers != "" {
		if err := kafka.InitKafkaClient(strings.Split(brokers, ",")); err != nil {
			logger.Warn("kafka init failed, events disabled", zap.Error(err))
		} else if err := kafka.InitSyncProducerFromClient(); err != nil {
			logger.Warn("kafka producer init failed, events disabled", zap.Error(err))
		} else {
			pub = msgservice.NewKafkaPublisher()
			defer kafka.Close()
		}
	}

	// ===== NATS（可选：扇出死信补偿通道）=====
	var fanoutOpts []timeline.Option
	var natsClient *natsx.Client
	if servers := os.Getenv("IM_NATS_SERVERS"); servers != "" {
		nc, err := natsx.NewClient(natsx.Config{
			Servers: strings.Split(servers, ","),
			Name:    global.Global.NodeID,
		})
		if err != nil {
			logger.Warn("nats init failed, dead letters dropped", zap.Error(err))
		} else {
			natsClient = nc
			fanoutOpts = append(fanoutOpts, timeline.WithDeadLetter(timeline.NatsDeadLetter(nc)))
			defer func() { _ = nc.Close() }()
		}
	}

	// ===== 组装写路径 =====
	seqDB := seq.NewMongoDB(db)
	idemDB := idem.NewMongoDB(db)
	storeDB := store.NewMongoDB(db)
	tlDB := timeline.NewMongoDB(db)

	fanout := timeline.NewWriter(tlDB, r, 8, 4096, fanoutOpts...)
	var replaySub *nats.Subscription
	if natsClient != nil {
		replaySub, err = timeline.StartDeadLetterReplay(natsClient, fanout)
		if err != nil {
			logger.Warn("dead letter replay subscribe failed", zap.Error(err))
		}
	}
	recorder := history.NewRecorder(history.NewMongoDB(db))
	svc := msgservice.New(seq.New(seqDB), idem.New(idemDB, idemOpts...), store.New(storeDB, r), fanout, pub,
		msgservice.WithAuditor(recorder))
	_ = svc // 网关侧经 RPC 调用；本进程只负责数据面维护

	mgr := retention.New(
		retention.NewMongoDB(db, time.Duration(cfg.ArchiveRetentionDays)*24*time.Hour),
		r, cfg,
	)

	// ===== 建分区与索引 =====
	initCtx, initCancel := context.WithTimeout(ctx, 2*time.Minute)
	if err := ensureSchema(initCtx, r, window, seqDB, idemDB, storeDB, tlDB, mgr); err != nil {
		initCancel()
		logger.Error("schema init failed", zap.Error(err))
		os.Exit(1)
	}
	initCancel()

	safe.SafeGo(func() { mgr.RunPeriodic(ctx, time.Hour) })

	logger.Infof("message store node %s up: %d hash partitions, idempotency window %s",
		global.Global.NodeID, r.PartitionCount(), window)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	cancel()
	// 先排空回放订阅再关 writer，避免关闭窗口期的死信回放投递
	if replaySub != nil {
		_ = replaySub.Drain()
		for i := 0; i < 50 && replaySub.IsValid(); i++ {
			time.Sleep(10 * time.Millisecond)
		}
	}
	fanout.Close()
}

func ensureSchema(ctx context.Context, r *router.Router, window time.Duration,
	seqDB *seq.MongoDB, idemDB *idem.MongoDB, storeDB *store.MongoDB, tlDB *timeline.MongoDB,
	mgr *retention.Manager) error {

	if err := seqDB.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := idemDB.EnsureIndexes(ctx, window); err != nil {
		return err
	}
	for i := 0; i < r.PartitionCount(); i++ {
		if err := storeDB.EnsureIndexes(ctx, r.MessagePartitionAt(i)); err != nil {
			return err
		}
		if err := tlDB.EnsureIndexes(ctx, r.TimelinePartitionAt(i)); err != nil {
			return err
		}
	}
	return mgr.EnsureUpcomingPartitions(ctx)
}
