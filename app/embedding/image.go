package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medwire/medwire/app/database"
	"github.com/medwire/medwire/app/inference"
)

// ImageOptions configure the cross-modal embedding service.
type ImageOptions struct {
	Model      string
	Dimensions int
}

// ImageService maintains the cross-modal vector space shared by images and
// text queries. This space has its own model and dimensionality; its vectors
// are never compared against the text embedding space.
type ImageService struct {
	opts       ImageOptions
	client     *inference.Client
	images     database.ImageRepository
	embeddings database.EmbeddingRepository
}

func NewImageService(opts ImageOptions, client *inference.Client,
	images database.ImageRepository, embeddings database.EmbeddingRepository) *ImageService {
	return &ImageService{
		opts:       opts,
		client:     client,
		images:     images,
		embeddings: embeddings,
	}
}

// EmbedTexts projects text inputs into the cross-modal space in one batched
// call. Results match inputs positionally.
func (s *ImageService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	output, err := s.client.Run(ctx, s.opts.Model, map[string]any{"texts": texts})
	if err != nil {
		return nil, err
	}

	return s.decodeBatch(output, len(texts))
}

// EmbedImages projects image URLs into the cross-modal space in one batched
// call. Results match inputs positionally.
func (s *ImageService) EmbedImages(ctx context.Context, imageURLs []string) ([][]float32, error) {
	if len(imageURLs) == 0 {
		return nil, nil
	}

	output, err := s.client.Run(ctx, s.opts.Model, map[string]any{"images": imageURLs})
	if err != nil {
		return nil, err
	}

	return s.decodeBatch(output, len(imageURLs))
}

// EmbedText is the single-input convenience wrapper around EmbedTexts.
func (s *ImageService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedImage computes and stores the vector for one stored image, preferring
// its permanently stored copy over the original source URL.
func (s *ImageService) EmbedImage(ctx context.Context, imageID string) error {
	image, err := s.images.GetImage(ctx, imageID)
	if err != nil {
		return err
	}
	if image == nil {
		return fmt.Errorf("image %s not found", imageID)
	}

	vectors, err := s.EmbedImages(ctx, []string{image.BestURL()})
	if err != nil {
		return err
	}

	return s.embeddings.UpsertImageEmbedding(ctx, database.ImageEmbedding{
		ImageID:   imageID,
		Embedding: vectors[0],
		Model:     s.opts.Model,
	})
}

// EmbedAll finds images lacking a vector and processes them in fixed-size
// batches. A failed batch call falls back to per-image calls so one bad
// image does not discard the rest of its batch.
func (s *ImageService) EmbedAll(ctx context.Context, batchSize int) (succeeded, failed int, err error) {
	if batchSize <= 0 {
		batchSize = 10
	}

	images, err := s.images.ListWithoutEmbedding(ctx, batchSize*10)
	if err != nil {
		return 0, 0, err
	}

	for start := 0; start < len(images); start += batchSize {
		end := min(start+batchSize, len(images))
		batch := images[start:end]

		ok, bad := s.embedBatch(ctx, batch)
		succeeded += ok
		failed += bad

		if ctx.Err() != nil {
			return succeeded, failed, ctx.Err()
		}
	}

	return succeeded, failed, nil
}

func (s *ImageService) embedBatch(ctx context.Context, batch []database.ArticleImage) (succeeded, failed int) {
	urls := make([]string, len(batch))
	for i, image := range batch {
		urls[i] = image.BestURL()
	}

	vectors, err := s.EmbedImages(ctx, urls)
	if err != nil {
		slog.Warn("Batch image embedding failed, retrying per image", "size", len(batch), "error", err)
		return s.embedIndividually(ctx, batch)
	}

	for i, image := range batch {
		err := s.embeddings.UpsertImageEmbedding(ctx, database.ImageEmbedding{
			ImageID:   image.ID,
			Embedding: vectors[i],
			Model:     s.opts.Model,
		})
		if err != nil {
			slog.Error("Failed to store image embedding", "image_id", image.ID, "error", err)
			failed++
			continue
		}
		succeeded++
	}

	return succeeded, failed
}

func (s *ImageService) embedIndividually(ctx context.Context, batch []database.ArticleImage) (succeeded, failed int) {
	for _, image := range batch {
		if err := s.EmbedImage(ctx, image.ID); err != nil {
			slog.Error("Failed to embed image", "image_id", image.ID, "error", err)
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed
}

// SearchImagesByText embeds the query into the image vector space and ranks
// stored image vectors against it. Cross-modal: the query never touches the
// text embedding space.
func (s *ImageService) SearchImagesByText(ctx context.Context, query string, limit int, threshold float64) ([]database.ImageSearchResult, error) {
	vector, err := s.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	return s.embeddings.SearchImagesByVector(ctx, vector, limit, threshold)
}

// FindSimilarImages ranks against an image's own stored vector.
func (s *ImageService) FindSimilarImages(ctx context.Context, imageID string, limit int, threshold float64) ([]database.ImageSearchResult, error) {
	return s.embeddings.FindSimilarImages(ctx, imageID, limit, threshold)
}

func (s *ImageService) decodeBatch(output []byte, expected int) ([][]float32, error) {
	vectors, err := inference.DecodeVectorBatch(output, expected)
	if err != nil {
		return nil, err
	}

	if s.opts.Dimensions > 0 {
		for _, vector := range vectors {
			if len(vector) != s.opts.Dimensions {
				return nil, fmt.Errorf("model returned %d dimensions, expected %d", len(vector), s.opts.Dimensions)
			}
		}
	}

	return vectors, nil
}
