package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Payload keys reserved by the Qdrant backend next to the metadata snapshot.
const (
	payloadContentID = "content_id"
	payloadDocument  = "document"
)

// pointNamespace derives stable point ids for content ids that are not UUIDs.
var pointNamespace = uuid.MustParse("6f1c2d7e-9a4b-4c1e-8f3a-5b2d9e7c1a40")

// QdrantConnectionConfig holds the Qdrant connection settings.
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // enables TLS
	UseTLS          bool
	VectorDimension int
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository is a VectorIndex backed by a Qdrant collection using
// cosine distance.
type QdrantRepository struct {
	conn           *grpc.ClientConn
	pointsClient   pb.PointsClient
	collectClient  pb.CollectionsClient
	collectionName string
	dimension      int
}

var _ VectorIndex = (*QdrantRepository)(nil)

// NewQdrantRepository dials Qdrant. Local instances use plaintext; Qdrant
// Cloud (APIKey set) or UseTLS switch to TLS 1.3.
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	if cfg.VectorDimension <= 0 {
		return nil, fmt.Errorf("qdrant: vector dimension must be positive")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS13,
		})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:           conn,
		pointsClient:   pb.NewPointsClient(conn),
		collectClient:  pb.NewCollectionsClient(conn),
		collectionName: cfg.Collection,
		dimension:      cfg.VectorDimension,
	}, nil
}

func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

func (r *QdrantRepository) Dimension() int {
	return r.dimension
}

// EnsureCollection creates the collection if it does not exist and checks
// the vector size of an existing one.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	exists, err := r.collectClient.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: r.collectionName,
	})
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if exists.GetResult().GetExists() {
		info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: r.collectionName})
		if err != nil {
			return fmt.Errorf("failed to get collection info: %w", err)
		}
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.dimension) {
			return fmt.Errorf("%w: collection %s has vector size %d, expected %d",
				ErrDimensionMismatch, r.collectionName, size, r.dimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func optionalBool(v bool) *bool {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	for _, params := range vectors.GetParamsMap().GetMap() {
		if params.GetSize() > 0 {
			return params.GetSize(), true
		}
	}
	return 0, false
}

// PointID maps a content id to its Qdrant point id. UUIDs map to
// themselves; other ids map to a deterministic UUIDv5.
func PointID(contentID string) string {
	if uid, err := uuid.Parse(contentID); err == nil {
		return uid.String()
	}
	return uuid.NewSHA1(pointNamespace, []byte(contentID)).String()
}

func pointIDOf(contentID string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(contentID)}}
}

// Insert upserts the entry and waits for the write to be applied.
func (r *QdrantRepository) Insert(ctx context.Context, entry *IndexEntry) error {
	if err := checkDimension(entry.Vector, r.dimension); err != nil {
		return err
	}

	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points: []*pb.PointStruct{{
			Id: pointIDOf(entry.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: entry.Vector}},
			},
			Payload: toPayload(entry),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

func toPayload(entry *IndexEntry) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		payloadContentID: {Kind: &pb.Value_StringValue{StringValue: entry.ID}},
		payloadDocument:  {Kind: &pb.Value_StringValue{StringValue: entry.Text}},
	}
	for key, raw := range entry.Metadata {
		switch v := raw.(type) {
		case string:
			payload[key] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		case float64:
			payload[key] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: v}}
		case bool:
			payload[key] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: v}}
		default:
			payload[key] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(v)}}
		}
	}
	return payload
}

// fromPayload splits a point payload into content id, text and metadata.
func fromPayload(payload map[string]*pb.Value) (string, string, Metadata) {
	md := make(Metadata, len(payload))
	var id, text string
	for key, v := range payload {
		switch key {
		case payloadContentID:
			id = v.GetStringValue()
			continue
		case payloadDocument:
			text = v.GetStringValue()
			continue
		}
		switch k := v.GetKind().(type) {
		case *pb.Value_StringValue:
			md[key] = k.StringValue
		case *pb.Value_DoubleValue:
			md[key] = k.DoubleValue
		case *pb.Value_IntegerValue:
			md[key] = float64(k.IntegerValue)
		case *pb.Value_BoolValue:
			md[key] = k.BoolValue
		}
	}
	return id, text, md
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

// Fetch returns the entry for id with its vector, or nil when absent.
func (r *QdrantRepository) Fetch(ctx context.Context, id string) (*IndexEntry, error) {
	resp, err := r.pointsClient.Get(ctx, &pb.GetPoints{
		CollectionName: r.collectionName,
		Ids:            []*pb.PointId{pointIDOf(id)},
		WithPayload:    withPayload(),
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point: %w", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}

	point := resp.GetResult()[0]
	contentID, text, md := fromPayload(point.GetPayload())
	if contentID == "" {
		contentID = id
	}
	return &IndexEntry{
		ID:       contentID,
		Vector:   denseVector(point.GetVectors()),
		Text:     text,
		Metadata: md,
	}, nil
}

func denseVector(v *pb.VectorsOutput) []float32 {
	out := v.GetVector()
	if dense := out.GetDense(); dense != nil {
		return dense.GetData()
	}
	return out.GetData()
}

// Query searches by cosine similarity and converts scores to distances.
func (r *QdrantRepository) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := checkDimension(vector, r.dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	resp, err := r.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(k),
		Filter:         buildFilter(filter),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]Match, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		id, text, md := fromPayload(scored.GetPayload())
		if id == "" {
			id = scored.GetId().GetUuid()
		}
		matches = append(matches, Match{
			ID:       id,
			Text:     text,
			Metadata: md,
			Distance: CosineDistance(float64(scored.GetScore())),
		})
	}
	return matches, nil
}

func buildFilter(filter Filter) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*pb.Condition, 0, len(filter))
	for _, key := range filter.sortedKeys() {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: key,
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: filter[key]},
					},
				},
			},
		})
	}
	return &pb.Filter{Must: conditions}
}

// Delete removes the point for id. Qdrant treats unknown ids as a no-op.
func (r *QdrantRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointIDOf(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}
	return nil
}

func (r *QdrantRepository) Count(ctx context.Context) (int, error) {
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Exact:          optionalBool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Sample scrolls the first limit points, payload only.
func (r *QdrantRepository) Sample(ctx context.Context, limit int) ([]IndexEntry, error) {
	if limit <= 0 {
		return []IndexEntry{}, nil
	}
	n := uint32(limit)
	resp, err := r.pointsClient.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: r.collectionName,
		Limit:          &n,
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll points: %w", err)
	}

	entries := make([]IndexEntry, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		id, text, md := fromPayload(point.GetPayload())
		if id == "" {
			id = point.GetId().GetUuid()
		}
		entries = append(entries, IndexEntry{ID: id, Text: text, Metadata: md})
	}
	return entries, nil
}
