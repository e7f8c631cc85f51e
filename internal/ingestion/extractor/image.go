package extractor

import (
	"context"
	"fmt"
)

func (s *Service) extractImage(ctx context.Context, data []byte, mime string, langs []string) (*Result, error) {
	if s.Vision == nil {
		return nil, fmt.Errorf("image OCR: vision not configured")
	}
	if mime == "" {
		mime = "image/png"
	}
	vres, err := s.Vision.OCRImageBytes(ctx, data, mime, BCP47(langs))
	if err != nil {
		return nil, err
	}
	res := &Result{PageCount: 1, Extractor: "vision"}
	for _, p := range vres.Pages {
		res.Elements = append(res.Elements, paragraphElements(p.Text, p.PageNumber)...)
	}
	if len(res.Elements) == 0 {
		res.Elements = paragraphElements(vres.PrimaryText, 1)
	}
	return res, nil
}
