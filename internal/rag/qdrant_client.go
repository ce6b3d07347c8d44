package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"soul-teller/server/internal/config"
	"soul-teller/server/internal/models"
	"soul-teller/server/internal/storage"
)

const defaultCollectionName = "soul_teller_vectors"

// payload keys
const (
	payloadID              = "item_id"
	payloadText            = "text"
	payloadTimestamp       = "timestamp"
	payloadType            = "type"
	payloadIsPlotTwist     = "is_plot_twist"
	payloadPlotTwistReason = "plot_twist_reason"
	payloadNodeID          = "node_id"
	payloadCharacterID     = "character_id"
	payloadWorldID         = "world_id"
	payloadEmotion         = "emotion"
)

// QdrantBackend stores vector items in a Qdrant collection. Qdrant point ids
// must be UUIDs or integers, so the item id is hashed into a name-based UUID
// and kept verbatim in the payload.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
	dimensions int
	logger     *slog.Logger
}

// NewQdrantBackend connects and makes sure the collection exists
func NewQdrantBackend(ctx context.Context, cfg config.QdrantConfig, dimensions int, logger *slog.Logger) (*QdrantBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dimensions <= 0 {
		dimensions = defaultDimension
	}
	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollectionName
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	b := &QdrantBackend{
		client:     client,
		collection: collection,
		dimensions: dimensions,
		logger:     logger.With("component", "qdrant"),
	}
	if err := b.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	b.logger.Info("qdrant collection ready", "collection", collection, "dimensions", dimensions)
	return b, nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", b.collection, err)
	}
	if exists {
		return nil
	}

	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(b.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", b.collection, err)
	}
	return nil
}

// PointID maps an item id to its stable point UUID
func PointID(itemID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(itemID)).String()
}

func (b *QdrantBackend) Upsert(ctx context.Context, item *models.VectorItem) error {
	vec := make([]float32, len(item.Embedding))
	for i, v := range item.Embedding {
		vec[i] = float32(v)
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(PointID(item.ID)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: toPayload(item),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point %s: %w", item.ID, err)
	}
	return nil
}

// Search lets Qdrant rank by cosine distance. Returned items carry no
// embedding.
func (b *QdrantBackend) Search(ctx context.Context, query []float64, topK int, threshold float64) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	vec := make([]float32, len(query))
	for i, v := range query {
		vec[i] = float32(v)
	}

	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		ScoreThreshold: qdrant.PtrOf(float32(threshold)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, SearchResult{
			Item:  fromPayload(p.GetPayload()),
			Score: float64(p.GetScore()),
		})
	}
	return results, nil
}

func (b *QdrantBackend) Get(ctx context.Context, id string) (*models.VectorItem, error) {
	points, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: b.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(PointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, storage.ErrNotFound
	}
	return fromPayload(points[0].GetPayload()), nil
}

func (b *QdrantBackend) Delete(ctx context.Context, id string) error {
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: b.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewID(PointID(id))),
	})
	if err != nil {
		return fmt.Errorf("failed to delete point %s: %w", id, err)
	}
	return nil
}

// Clear drops and recreates the collection
func (b *QdrantBackend) Clear(ctx context.Context) error {
	if err := b.client.DeleteCollection(ctx, b.collection); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", b.collection, err)
	}
	return b.ensureCollection(ctx)
}

func (b *QdrantBackend) Count(ctx context.Context) (int, error) {
	n, err := b.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: b.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

func toPayload(item *models.VectorItem) map[string]*qdrant.Value {
	m := item.Metadata
	p := map[string]*qdrant.Value{
		payloadID:        qdrant.NewValueString(item.ID),
		payloadText:      qdrant.NewValueString(item.Text),
		payloadTimestamp: qdrant.NewValueInt(m.Timestamp),
	}
	if m.IsPlotTwist {
		p[payloadIsPlotTwist] = qdrant.NewValueBool(true)
	}
	optional := map[string]string{
		payloadType:            m.Type,
		payloadPlotTwistReason: m.PlotTwistReason,
		payloadNodeID:          m.NodeID,
		payloadCharacterID:     m.CharacterID,
		payloadWorldID:         m.WorldID,
		payloadEmotion:         m.Emotion,
	}
	for k, v := range optional {
		if v != "" {
			p[k] = qdrant.NewValueString(v)
		}
	}
	return p
}

func fromPayload(p map[string]*qdrant.Value) *models.VectorItem {
	str := func(k string) string { return p[k].GetStringValue() }
	return &models.VectorItem{
		ID:   str(payloadID),
		Text: str(payloadText),
		Metadata: models.VectorMetadata{
			Timestamp:       p[payloadTimestamp].GetIntegerValue(),
			Type:            str(payloadType),
			IsPlotTwist:     p[payloadIsPlotTwist].GetBoolValue(),
			PlotTwistReason: str(payloadPlotTwistReason),
			NodeID:          str(payloadNodeID),
			CharacterID:     str(payloadCharacterID),
			WorldID:         str(payloadWorldID),
			Emotion:         str(payloadEmotion),
		},
	}
}

// NewBackend builds the backend named by cfg.Vector.Backend. The sqlite
// backend owns vectorDB; pass nil for the others.
func NewBackend(ctx context.Context, cfg *config.Config, vectorDB *storage.VectorDB, logger *slog.Logger) (Backend, error) {
	switch cfg.Vector.Backend {
	case "qdrant":
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return NewQdrantBackend(ctx, cfg.Database.Qdrant, cfg.AI.Embedding.Dimensions, logger)
	case "memory":
		return NewScanBackend(NewMemoryTable()), nil
	case "", "sqlite":
		if vectorDB == nil {
			return nil, fmt.Errorf("sqlite vector backend requires an open vector db")
		}
		return NewScanBackend(vectorDB), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}
