package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisIndex is the alternate knowledge.VectorIndex backing for larger
// test-case corpora: embeddings live in a Redis hash keyed by id, and
// search still scores client-side (RediSearch's native vector index is not
// assumed to be installed on the target Redis server). This exercises
// go-redis/v9 for the corpus's scale-out path while keeping CosineIndex as
// the zero-dependency default.
type RedisIndex struct {
	client *redis.Client
	key    string
}

// NewRedisIndex builds an index storing every embedding under a single hash
// key ("knowledge:vectorindex" by default).
func NewRedisIndex(client *redis.Client, hashKey string) *RedisIndex {
	if hashKey == "" {
		hashKey = "knowledge:vectorindex"
	}
	return &RedisIndex{client: client, key: hashKey}
}

func (r *RedisIndex) Upsert(ctx context.Context, id string, embedding []float64) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("marshaling embedding for %s: %w", id, err)
	}
	if err := r.client.HSet(ctx, r.key, id, data).Err(); err != nil {
		return fmt.Errorf("storing embedding for %s: %w", id, err)
	}
	return nil
}

func (r *RedisIndex) Delete(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("deleting embedding for %s: %w", id, err)
	}
	return nil
}

func (r *RedisIndex) Search(ctx context.Context, embedding []float64, topK int, minSimilarity float64) ([]string, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	for id, raw := range all {
		var vec []float64
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			continue
		}
		score := cosineSimilarity(embedding, vec)
		if score >= minSimilarity {
			candidates = append(candidates, scored{id, score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out, nil
}
