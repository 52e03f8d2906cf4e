// Package mongo provides a MongoDB credits.Backend that reads and writes
// LibreChat-shaped collections: users and transactions.
//
// User IDs that are valid ObjectID hex strings are stored as ObjectIDs, so
// an existing LibreChat database can be reset in place. Amounts are written
// as Decimal128 in rawAmount and summed with $toDecimal, which also accepts
// the doubles older deployments wrote.
//
// WithTx uses a client session and needs a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/warp/credit-engine/credits"
)

// Collection name constants.
const (
	colUsers        = "users"
	colTransactions = "transactions"
	colResetRuns    = "resetruns"
)

// compile-time interface check
var _ credits.Backend = (*Store)(nil)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to uri, selects database and creates indexes.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("credits/mongo: ping: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Migrate creates indexes for the credit collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("credits/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ==================== Models ====================

// transactionModel also decodes documents written by LibreChat itself, which
// carry ObjectID ids and no seq or kind.
type transactionModel struct {
	ID        any             `bson:"_id"`
	Seq       bson.ObjectID   `bson:"seq"`
	User      any             `bson:"user"`
	RawAmount bson.Decimal128 `bson:"rawAmount"`
	Kind      string          `bson:"kind"`
	TokenType string          `bson:"tokenType"`
	Context   string          `bson:"context,omitempty"`
	CreatedAt time.Time       `bson:"createdAt"`
}

type userModel struct {
	ID        any       `bson:"_id"`
	Email     string    `bson:"email,omitempty"`
	Name      string    `bson:"name,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
}

type runModel struct {
	ID          string          `bson:"_id"`
	Cohort      string          `bson:"cohort"`
	Target      bson.Decimal128 `bson:"target"`
	Status      string          `bson:"status"`
	Succeeded   int             `bson:"succeeded"`
	Failed      int             `bson:"failed"`
	Error       string          `bson:"error,omitempty"`
	StartedAt   time.Time       `bson:"startedAt"`
	CompletedAt *time.Time      `bson:"completedAt,omitempty"`
}

// ==================== Entry Store ====================

func (s *Store) Append(ctx context.Context, e credits.Entry) (credits.EntryID, error) {
	return s.appendEntry(ctx, e)
}

func (s *Store) appendEntry(ctx context.Context, e credits.Entry) (credits.EntryID, error) {
	if e.ID == "" {
		e.ID = credits.EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	if e.TokenType == "" {
		e.TokenType = credits.DefaultTokenType
	}
	amount, err := toDecimal128(e.Amount)
	if err != nil {
		return "", err
	}

	m := transactionModel{
		ID:        string(e.ID),
		Seq:       bson.NewObjectID(),
		User:      userKey(e.UserID),
		RawAmount: amount,
		Kind:      string(e.Kind),
		TokenType: e.TokenType,
		Context:   e.Context,
		CreatedAt: e.CreatedAt.UTC(),
	}
	if _, err := s.db.Collection(colTransactions).InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("duplicate entry id %s", e.ID)
		}
		return "", fmt.Errorf("credits/mongo: append entry: %w", err)
	}
	return e.ID, nil
}

func (s *Store) Sum(ctx context.Context, userID credits.UserID) (decimal.Decimal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user": userKey(userID)}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": bson.M{"$toDecimal": "$rawAmount"}},
		}}},
	}

	cur, err := s.db.Collection(colTransactions).Aggregate(ctx, pipeline)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credits/mongo: sum: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Total bson.Decimal128 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return decimal.Zero, fmt.Errorf("credits/mongo: sum: %w", err)
	}
	if len(rows) == 0 {
		return decimal.Zero, nil
	}
	return fromDecimal128(rows[0].Total)
}

func (s *Store) Entries(ctx context.Context, userID credits.UserID) ([]credits.Entry, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user": userKey(userID)}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$addFields", Value: bson.M{"rawAmount": bson.M{"$toDecimal": "$rawAmount"}}}},
	}

	cur, err := s.db.Collection(colTransactions).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: entries: %w", err)
	}
	defer cur.Close(ctx)

	var models []transactionModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("credits/mongo: entries: %w", err)
	}

	entries := make([]credits.Entry, 0, len(models))
	for _, m := range models {
		e, err := m.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (m transactionModel) entry() (credits.Entry, error) {
	amount, err := fromDecimal128(m.RawAmount)
	if err != nil {
		return credits.Entry{}, err
	}

	kind := credits.EntryKind(m.Kind)
	if !kind.Valid() {
		switch {
		case m.Context == credits.AdminContext:
			kind = credits.KindAdminAdjustment
		case amount.IsNegative():
			kind = credits.KindDebit
		default:
			kind = credits.KindCredit
		}
	}
	tokenType := m.TokenType
	if tokenType == "" {
		tokenType = credits.DefaultTokenType
	}

	return credits.Entry{
		ID:        credits.EntryID(idString(m.ID)),
		UserID:    credits.UserID(idString(m.User)),
		Amount:    amount,
		Kind:      kind,
		TokenType: tokenType,
		Context:   m.Context,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]credits.UserID, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]credits.UserID, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return ids, nil
}

// ==================== Transactions ====================

// WithTx runs fn inside a multi-document transaction.
func (s *Store) WithTx(ctx context.Context, fn func(credits.Store) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("credits/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return nil, fn(&txStore{parent: s, ctx: txCtx})
	})
	return err
}

// txStore binds every call to the session context. The driver only puts
// an operation in the transaction when it receives that context, so the
// caller's ctx is ignored.
type txStore struct {
	parent *Store
	ctx    context.Context
}

func (ts *txStore) Append(_ context.Context, e credits.Entry) (credits.EntryID, error) {
	return ts.parent.appendEntry(ts.ctx, e)
}

func (ts *txStore) Sum(_ context.Context, userID credits.UserID) (decimal.Decimal, error) {
	return ts.parent.Sum(ts.ctx, userID)
}

func (ts *txStore) Entries(_ context.Context, userID credits.UserID) ([]credits.Entry, error) {
	return ts.parent.Entries(ts.ctx, userID)
}

func (ts *txStore) ListUserIDs(_ context.Context) ([]credits.UserID, error) {
	return ts.parent.ListUserIDs(ts.ctx)
}

// ==================== Accounts ====================

func (s *Store) SaveAccount(ctx context.Context, a credits.Account) error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}

	update := bson.M{
		"$set":         bson.M{"email": a.Email, "name": a.Name},
		"$setOnInsert": bson.M{"createdAt": a.CreatedAt.UTC()},
	}
	_, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"_id": userKey(a.ID)}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("credits/mongo: save account: %w", err)
	}
	return nil
}

func (s *Store) Account(ctx context.Context, id credits.UserID) (*credits.Account, error) {
	return s.findAccount(ctx, bson.M{"_id": userKey(id)})
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*credits.Account, error) {
	// LibreChat stores emails lowercased.
	return s.findAccount(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (s *Store) findAccount(ctx context.Context, filter bson.M) (*credits.Account, error) {
	var m userModel
	err := s.db.Collection(colUsers).FindOne(ctx, filter).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrUserNotFound
		}
		return nil, fmt.Errorf("credits/mongo: get account: %w", err)
	}
	return fromUserModel(m), nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]credits.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(colUsers).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list accounts: %w", err)
	}
	defer cur.Close(ctx)

	var models []userModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("credits/mongo: list accounts: %w", err)
	}

	accounts := make([]credits.Account, len(models))
	for i, m := range models {
		accounts[i] = *fromUserModel(m)
	}
	return accounts, nil
}

func fromUserModel(m userModel) *credits.Account {
	return &credits.Account{
		ID:        credits.UserID(idString(m.ID)),
		Email:     m.Email,
		Name:      m.Name,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

// ==================== Run Log ====================

func (s *Store) SaveRun(ctx context.Context, r credits.RunRecord) error {
	target, err := toDecimal128(r.Target)
	if err != nil {
		return err
	}
	m := runModel{
		ID:        r.ID,
		Cohort:    string(r.Cohort),
		Target:    target,
		Status:    string(r.Status),
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Error:     r.Error,
		StartedAt: r.StartedAt.UTC(),
	}
	if !r.CompletedAt.IsZero() {
		t := r.CompletedAt.UTC()
		m.CompletedAt = &t
	}

	_, err = s.db.Collection(colResetRuns).ReplaceOne(ctx,
		bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("credits/mongo: save run: %w", err)
	}
	return nil
}

func (s *Store) Runs(ctx context.Context, limit int) ([]credits.RunRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cur, err := s.db.Collection(colResetRuns).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list runs: %w", err)
	}
	defer cur.Close(ctx)

	var models []runModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("credits/mongo: list runs: %w", err)
	}

	runs := make([]credits.RunRecord, 0, len(models))
	for _, m := range models {
		target, err := fromDecimal128(m.Target)
		if err != nil {
			return nil, err
		}
		r := credits.RunRecord{
			ID:        m.ID,
			Cohort:    credits.Cohort(m.Cohort),
			Target:    target,
			Status:    credits.RunStatus(m.Status),
			Succeeded: m.Succeeded,
			Failed:    m.Failed,
			Error:     m.Error,
			StartedAt: m.StartedAt.UTC(),
		}
		if m.CompletedAt != nil {
			r.CompletedAt = m.CompletedAt.UTC()
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// ==================== Helpers ====================

func now() time.Time {
	return time.Now().UTC()
}

// userKey maps a UserID to the stored _id / user value.
func userKey(id credits.UserID) any {
	if oid, err := bson.ObjectIDFromHex(string(id)); err == nil {
		return oid
	}
	return string(id)
}

func idString(v any) string {
	switch id := v.(type) {
	case bson.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

func toDecimal128(d decimal.Decimal) (bson.Decimal128, error) {
	v, err := bson.ParseDecimal128(d.String())
	if err != nil {
		return bson.Decimal128{}, fmt.Errorf("credits/mongo: amount %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v bson.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("credits/mongo: amount %s: %w", v, err)
	}
	return d, nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the credit collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}}},
		},
		colUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}},
		},
		colResetRuns: {
			{Keys: bson.D{{Key: "startedAt", Value: -1}}},
		},
	}
}
