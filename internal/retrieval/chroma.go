package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

var _ VectorStore = (*ChromaStore)(nil)

// ChromaStore keeps menu vectors in a Chroma collection. Embeddings are
// computed by us and passed in; Chroma only stores and searches them.
type ChromaStore struct {
	client     chromago.Client
	name       string
	collection chromago.Collection
}

// NewChromaStore connects to the Chroma server at baseURL and gets or creates
// the named collection using cosine distance.
func NewChromaStore(ctx context.Context, baseURL, collection string) (*ChromaStore, error) {
	client, err := chromago.NewHTTPClient(chromago.WithBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("creating chroma client: %w", err)
	}
	s := &ChromaStore{client: client, name: collection}
	if err := s.open(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *ChromaStore) open(ctx context.Context) error {
	col, err := s.client.GetOrCreateCollection(ctx, s.name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", "cosine"),
				chromago.NewStringAttribute("created_by", "menumap"),
			),
		),
	)
	if err != nil {
		return fmt.Errorf("opening chroma collection %s: %w", s.name, err)
	}
	s.collection = col
	return nil
}

// Close releases the underlying client.
func (s *ChromaStore) Close() error {
	return s.client.Close()
}

func (s *ChromaStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]chromago.DocumentID, len(records))
	texts := make([]string, len(records))
	embs := make([]embeddings.Embedding, len(records))
	metas := make([]chromago.DocumentMetadata, len(records))
	for i, r := range records {
		ids[i] = chromago.DocumentID(r.ID)
		texts[i] = r.Text
		embs[i] = embeddings.NewEmbeddingFromFloat32(r.Embedding)
		metas[i] = chromago.NewDocumentMetadata(
			chromago.NewIntAttribute("item_id", int64(r.ItemID)),
			chromago.NewStringAttribute("model", r.Model),
		)
	}
	// Upsert so a renamed item replaces its previous vector.
	err := s.collection.Upsert(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(embs...),
		chromago.WithMetadatas(metas...),
	)
	if err != nil {
		return fmt.Errorf("upserting %d records into chroma: %w", len(records), err)
	}
	return nil
}

func (s *ChromaStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	res, err := s.collection.Query(ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(topK),
	)
	if err != nil {
		return nil, fmt.Errorf("querying chroma: %w", err)
	}

	idGroups := res.GetIDGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}
	docGroups := res.GetDocumentsGroups()
	distGroups := res.GetDistancesGroups()

	var out []ScoredRecord
	for i, id := range idGroups[0] {
		itemID, err := ItemIDFromRecord(string(id))
		if err != nil {
			continue
		}
		r := ScoredRecord{Record: Record{ID: string(id), ItemID: itemID}}
		if len(docGroups) > 0 && i < len(docGroups[0]) && docGroups[0][i] != nil {
			r.Text = docGroups[0][i].ContentString()
		}
		if len(distGroups) > 0 && i < len(distGroups[0]) {
			// Cosine distance is 1 - similarity.
			r.Score = 1 - float32(distGroups[0][i])
		}
		out = append(out, r)
	}
	sortByScore(out)
	return out, nil
}

func (s *ChromaStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	docIDs := make([]chromago.DocumentID, len(ids))
	for i, id := range ids {
		docIDs[i] = chromago.DocumentID(id)
	}
	if err := s.collection.Delete(ctx, chromago.WithIDsDelete(docIDs...)); err != nil {
		return fmt.Errorf("deleting %d records from chroma: %w", len(ids), err)
	}
	return nil
}

func (s *ChromaStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(ctx)
}

// ExportAll returns ids, texts and metadata. Embeddings are not fetched.
func (s *ChromaStore) ExportAll(ctx context.Context) ([]Record, error) {
	res, err := s.collection.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing chroma documents: %w", err)
	}
	ids := res.GetIDs()
	docs := res.GetDocuments()
	metas := res.GetMetadatas()

	records := make([]Record, 0, len(ids))
	for i, id := range ids {
		itemID, err := ItemIDFromRecord(string(id))
		if err != nil {
			continue
		}
		r := Record{ID: string(id), ItemID: itemID}
		if i < len(docs) && docs[i] != nil {
			r.Text = docs[i].ContentString()
		}
		if i < len(metas) && metas[i] != nil {
			r.Model = metadataString(metas[i], "model")
		}
		records = append(records, r)
	}
	return records, nil
}

// Reset drops and recreates the collection.
func (s *ChromaStore) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.name); err != nil {
		return fmt.Errorf("deleting chroma collection %s: %w", s.name, err)
	}
	return s.open(ctx)
}

// metadataString reads a string attribute by round-tripping the metadata
// through JSON; DocumentMetadata exposes no generic accessor.
func metadataString(meta chromago.DocumentMetadata, key string) string {
	b, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
