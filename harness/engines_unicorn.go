//go:build unicorn
// +build unicorn

package harness

import (
	"fmt"
	"log/slog"

	"github.com/weiihann/vcpubench/codetable"
	"github.com/weiihann/vcpubench/engine/unicorn"
)

func init() {
	factories["unicorn"] = func(image string, logger *slog.Logger) (*Backend, error) {
		if image == "" {
			return nil, fmt.Errorf("the unicorn engine needs a code image (--image)")
		}

		img, err := codetable.Load(image)
		if err != nil {
			return nil, err
		}

		e, err := unicorn.New(img, logger.With(slog.String("engine", "unicorn")))
		if err != nil {
			return nil, err
		}

		return &Backend{Name: "unicorn", Engine: e, Table: img}, nil
	}
}
