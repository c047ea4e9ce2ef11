package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const contractsCollection = "contractflow_contracts"

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Dimension uint64 `json:"dimension"`
}

// Client indexes contract embeddings and answers similarity queries over
// Qdrant's gRPC API.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	dimension   uint64
}

// ContractMatch is a single similarity hit against the contracts collection.
type ContractMatch struct {
	ContractID   string  `json:"contract_id"`
	ContractName string  `json:"contract_name"`
	Score        float32 `json:"score"`
}

// NewClient dials the Qdrant endpoint and ensures the contracts collection.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	c := &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		dimension:   cfg.Dimension,
	}
	if err := c.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureCollection(ctx context.Context) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: contractsCollection})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: contractsCollection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     c.dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", contractsCollection, err)
	}
	return nil
}

// IndexContract upserts one contract embedding keyed by contract id.
func (c *Client) IndexContract(ctx context.Context, contractID, contractName string, vector []float32) error {
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: contractsCollection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: contractID}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: map[string]*pb.Value{
					"contract_name": {Kind: &pb.Value_StringValue{StringValue: contractName}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("index contract %s: %w", contractID, err)
	}
	return nil
}

// SimilarContracts returns the top-K nearest contracts to the query vector.
func (c *Client) SimilarContracts(ctx context.Context, vector []float32, topK uint64) ([]ContractMatch, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: contractsCollection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	matches := make([]ContractMatch, 0, len(resp.Result))
	for _, r := range resp.Result {
		m := ContractMatch{
			ContractID: r.Id.GetUuid(),
			Score:      r.Score,
		}
		if v, ok := r.Payload["contract_name"]; ok {
			if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
				m.ContractName = sv.StringValue
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
