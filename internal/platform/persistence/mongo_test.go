package persistence

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoDB_Database(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns database and collection", func(mt *mtest.T) {
		mdb := &MongoDB{
			logger:   slog.New(slog.NewJSONHandler(os.Stdout, nil)),
			client:   mt.Client,
			database: mt.DB,
		}
		assert.Equal(t, mt.DB, mdb.Database())
		assert.Equal(t, "reconciliation_runs", mdb.Collection("reconciliation_runs").Name())
	})
}

func TestMongoDB_EnsureIndexes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("creates indexes", func(mt *mtest.T) {
		mdb := &MongoDB{
			logger:   slog.New(slog.NewJSONHandler(os.Stdout, nil)),
			client:   mt.Client,
			database: mt.DB,
		}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := mdb.EnsureIndexes(context.Background(), mt.Coll.Name(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "record_id", Value: 1}}},
		})
		assert.NoError(t, err)
	})

	mt.Run("no models is a no-op", func(mt *mtest.T) {
		mdb := &MongoDB{logger: slog.Default(), client: mt.Client, database: mt.DB}
		assert.NoError(t, mdb.EnsureIndexes(context.Background(), mt.Coll.Name(), nil))
	})

	mt.Run("command error", func(mt *mtest.T) {
		mdb := &MongoDB{logger: slog.Default(), client: mt.Client, database: mt.DB}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 85, Message: "index options conflict"}))

		err := mdb.EnsureIndexes(context.Background(), mt.Coll.Name(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "event_id", Value: 1}}},
		})
		assert.Error(t, err)
	})
}
