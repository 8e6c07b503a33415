package server

import (
	"context"
	"log"

	"ledger-service/internal/config"
	hrest "ledger-service/internal/handler/rest"
	publisher "ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/internal/usecase"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func StartLedgerService(cfg config.AppConfig) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	dbPool, err := config.ConnectDB()
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	if err := repository.EnsureSchema(context.Background(), dbPool); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})

	kafkaWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	defer kafkaWriter.Close()

	events := publisher.NewLedgerEventPublisher(kafkaWriter, logger)

	// Repositories
	accountRepo := repository.NewAccountRepo(dbPool)
	currencyRepo := repository.NewCurrencyRepo(dbPool)
	moveRepo := repository.NewMoveRepo(dbPool)
	sequenceRepo := repository.NewSequenceRepo(dbPool)
	paymentRepo := repository.NewPaymentRepo(dbPool)
	reconcileRepo := repository.NewReconcileRepo(dbPool)
	statementRepo := repository.NewStatementRepo(dbPool)
	modelRepo := repository.NewReconcileModelRepo(dbPool)

	// Usecases
	fxUC := usecase.NewFxUsecase(currencyRepo, redisClient)
	moveUC := usecase.NewMoveUsecase(moveRepo, accountRepo, sequenceRepo, fxUC, events, logger)
	paymentUC := usecase.NewPaymentUsecase(paymentRepo, moveRepo, accountRepo, fxUC, moveUC, events, logger)
	reconcileUC := usecase.NewReconcileUsecase(moveRepo, reconcileRepo, accountRepo, sequenceRepo, fxUC, paymentUC, events, logger)
	statementUC := usecase.NewStatementUsecase(statementRepo, modelRepo, moveRepo, accountRepo, sequenceRepo, fxUC, reconcileUC, redisClient, events, logger)

	// Posting a payment's move has to flow back into the payment record.
	moveUC.SetPaymentSync(paymentUC)

	handler := hrest.NewLedgerRestHandler(moveUC, paymentUC, reconcileUC, statementUC, fxUC)
	handler.Start(cfg.HTTPAddr)
}
