package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/store/schema"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	// Check if we should use an external database (for CI or local development)
	dbHost := os.Getenv("TEST_DB_HOST")
	dbPort := os.Getenv("TEST_DB_PORT")
	dbUser := os.Getenv("TEST_DB_USER")
	dbPassword := os.Getenv("TEST_DB_PASSWORD")
	dbName := os.Getenv("TEST_DB_NAME")

	var dsn string
	var err error

	if dbHost != "" {
		// Use external database
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbUser == "" {
			dbUser = "postgres"
		}
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		if dbName == "" {
			dbName = "test_db"
		}

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		fmt.Printf("Using external database: %s:%s/%s\n", dbHost, dbPort, dbName)
	} else {
		// Start a PostgreSQL container for testing
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			terminateContainer(ctx)
			os.Exit(1)
		}

		fmt.Printf("Started PostgreSQL container\n")
	}

	// Connect to the database
	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	// Initialize the database schema
	if err := initializeTestDatabase(testDB); err != nil {
		fmt.Printf("Failed to initialize database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	// Run tests
	code := m.Run()

	terminateContainer(ctx)
	os.Exit(code)
}

func terminateContainer(ctx context.Context) {
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}
}

// initializeTestDatabase creates the schema from the GORM models
func initializeTestDatabase(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Order{},
		&schema.Token{},
		&schema.Collection{},
		&schema.FillEvent{},
		&schema.CancelEvent{},
		&schema.BulkCancelEvent{},
		&schema.NonceCancelEvent{},
		&schema.NftTransferEvent{},
		&schema.NftApprovalEvent{},
		&schema.FtTransferEvent{},
		&schema.TokenFloorSellEvent{},
		&schema.CollectionTopBidEvent{},
		&schema.UsdPrice{},
		&schema.KeyValueStore{},
	)
}

// initPGTestDB hands each test its own transaction-backed store so tests
// stay isolated without truncating between them
func initPGTestDB(t *testing.T) Store {
	tx := testDB.Begin()
	require.NotNil(t, tx)
	require.NoError(t, tx.Error)

	t.Cleanup(func() {
		tx.Rollback()
	})

	return NewPGStore(tx)
}

func testFillEvent(logIndex uint64) domain.FillEvent {
	return domain.FillEvent{
		OrderKind:     domain.OrderKindSeaport,
		OrderID:       fmt.Sprintf("order-%d", logIndex),
		OrderSide:     domain.OrderSideSell,
		Maker:         "0x0000000000000000000000000000000000005e11",
		Taker:         "0x000000000000000000000000000000000000b4e7",
		Contract:      "0x000000000000000000000000000000000c0113c7",
		TokenID:       "42",
		Amount:        "1",
		Currency:      domain.ZeroAddress,
		CurrencyPrice: "1000",
		Price:         "1000",
		BaseEventParams: domain.BaseEventParams{
			Address:    "0x00000000006c3852cbef3e08e8df289169ede581",
			Block:      100,
			BlockHash:  "0xb10c",
			TxHash:     "0xfeedface",
			TxIndex:    3,
			LogIndex:   logIndex,
			BatchIndex: 1,
			Timestamp:  1700000000,
		},
	}
}

func testOrder(id string) schema.Order {
	tokenID := "42"
	return schema.Order{
		ID:                id,
		Kind:              domain.OrderKindSeaport,
		Side:              domain.OrderSideSell,
		Maker:             "0x0000000000000000000000000000000000005e11",
		Contract:          "0x000000000000000000000000000000000c0113c7",
		TokenID:           &tokenID,
		Price:             "1000",
		Value:             "1000",
		Currency:          domain.ZeroAddress,
		QuantityRemaining: "1",
		QuantityFilled:    "0",
		FillabilityStatus: schema.FillabilityFillable,
		ApprovalStatus:    schema.ApprovalApproved,
	}
}

func TestSaveFillEventsDuplicateKeepsFirstWrite(t *testing.T) {
	s := initPGTestDB(t)
	ctx := context.Background()

	first := testFillEvent(7)
	require.NoError(t, s.SaveFillEvents(ctx, []domain.FillEvent{first}))

	// A replay of the same (tx_hash, log_index, batch_index) carrying a
	// different price must leave the stored row untouched
	replay := first
	replay.Price = "999999"
	replay.CurrencyPrice = "999999"
	require.NoError(t, s.SaveFillEvents(ctx, []domain.FillEvent{replay}))

	stored, err := s.GetFillEventsByTxHash(ctx, first.BaseEventParams.TxHash)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "1000", stored[0].Price)
}

func TestFloorAskFollowsOrderLifecycle(t *testing.T) {
	s := initPGTestDB(t)
	ctx := context.Background()
	contract := "0x000000000000000000000000000000000c0113c7"
	trigger := domain.Trigger{Kind: domain.TriggerKindNewOrder}

	require.NoError(t, s.EnsureToken(ctx, contract, "42", contract))

	cheap := testOrder("order-cheap")
	cheap.Price = "5"
	cheap.Value = "5"
	require.NoError(t, s.UpsertOrder(ctx, cheap))

	expensive := testOrder("order-expensive")
	expensive.Price = "8"
	expensive.Value = "8"
	require.NoError(t, s.UpsertOrder(ctx, expensive))

	change, err := s.ReconcileTokenFloorAsk(ctx, contract, "42", trigger)
	require.NoError(t, err)
	require.NotNil(t, change)
	require.NotNil(t, change.NewOrderID)
	assert.Equal(t, "order-cheap", *change.NewOrderID)
	assert.Equal(t, "5", *change.NewPrice)

	// Cancelling the floor order promotes the next cheapest
	ids, err := s.CancelOrder(ctx, "order-cheap")
	require.NoError(t, err)
	assert.Equal(t, []string{"order-cheap"}, ids)

	change, err = s.ReconcileTokenFloorAsk(ctx, contract, "42", domain.Trigger{Kind: domain.TriggerKindCancel})
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, "order-expensive", *change.NewOrderID)
	assert.Equal(t, "8", *change.NewPrice)
	assert.Equal(t, "5", *change.PrevPrice)

	// Cancelling the last order clears the floor entirely
	_, err = s.CancelOrder(ctx, "order-expensive")
	require.NoError(t, err)

	change, err = s.ReconcileTokenFloorAsk(ctx, contract, "42", domain.Trigger{Kind: domain.TriggerKindCancel})
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Nil(t, change.NewOrderID)
	assert.Nil(t, change.NewPrice)
	assert.Equal(t, "8", *change.PrevPrice)
}

func TestFloorAskReconcileConverges(t *testing.T) {
	s := initPGTestDB(t)
	ctx := context.Background()
	contract := "0x000000000000000000000000000000000c0113c7"
	trigger := domain.Trigger{Kind: domain.TriggerKindNewOrder}

	require.NoError(t, s.EnsureToken(ctx, contract, "42", contract))
	require.NoError(t, s.UpsertOrder(ctx, testOrder("order-1")))

	change, err := s.ReconcileTokenFloorAsk(ctx, contract, "42", trigger)
	require.NoError(t, err)
	require.NotNil(t, change)

	// A second reconciliation against an unchanged order book must not
	// touch the row or write another journal entry
	change, err = s.ReconcileTokenFloorAsk(ctx, contract, "42", trigger)
	require.NoError(t, err)
	assert.Nil(t, change)
}

func TestBulkCancelScopedToMakerKindAndNonce(t *testing.T) {
	s := initPGTestDB(t)
	ctx := context.Background()

	nonceOf := func(n string) *string { return &n }

	below := testOrder("order-below")
	below.Nonce = nonceOf("3")
	require.NoError(t, s.UpsertOrder(ctx, below))

	atFloor := testOrder("order-at-floor")
	atFloor.Nonce = nonceOf("5")
	require.NoError(t, s.UpsertOrder(ctx, atFloor))

	otherKind := testOrder("order-other-kind")
	otherKind.Kind = domain.OrderKindBlur
	otherKind.Nonce = nonceOf("3")
	require.NoError(t, s.UpsertOrder(ctx, otherKind))

	otherMaker := testOrder("order-other-maker")
	otherMaker.Maker = "0x000000000000000000000000000000000000a11e"
	otherMaker.Nonce = nonceOf("3")
	require.NoError(t, s.UpsertOrder(ctx, otherMaker))

	ids, err := s.BulkCancelOrders(ctx, domain.BulkCancelEvent{
		OrderKind: domain.OrderKindSeaport,
		Maker:     below.Maker,
		MinNonce:  "5",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"order-below"}, ids)

	for id, want := range map[string]schema.FillabilityStatus{
		"order-below":       schema.FillabilityCancelled,
		"order-at-floor":    schema.FillabilityFillable,
		"order-other-kind":  schema.FillabilityFillable,
		"order-other-maker": schema.FillabilityFillable,
	} {
		order, err := s.GetOrderByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, order)
		assert.Equal(t, want, order.FillabilityStatus, id)
	}
}

func TestTerminalOrderStatesAreFinal(t *testing.T) {
	s := initPGTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertOrder(ctx, testOrder("order-1")))

	touched, filled, err := s.ApplyOrderFill(ctx, "order-1", "1")
	require.NoError(t, err)
	assert.True(t, touched)
	assert.True(t, filled)

	// A late cancel must not resurrect or re-transition a filled order
	ids, err := s.CancelOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Neither must a balance revalidation
	require.NoError(t, s.RevalidateOrder(ctx, "order-1", schema.FillabilityNoBalance, nil))

	order, err := s.GetOrderByID(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, schema.FillabilityFilled, order.FillabilityStatus)

	// A replayed fill against the terminal row is a no-op
	touched, _, err = s.ApplyOrderFill(ctx, "order-1", "1")
	require.NoError(t, err)
	assert.False(t, touched)
}

func TestUpsertOrderRefreshSkipsTerminalRows(t *testing.T) {
	s := initPGTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertOrder(ctx, testOrder("order-1")))
	_, err := s.CancelOrder(ctx, "order-1")
	require.NoError(t, err)

	refresh := testOrder("order-1")
	refresh.Price = "2000"
	refresh.Value = "2000"
	require.NoError(t, s.UpsertOrder(ctx, refresh))

	order, err := s.GetOrderByID(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, schema.FillabilityCancelled, order.FillabilityStatus)
	assert.Equal(t, "1000", order.Price)
}
