package text

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/pkoukk/tiktoken-go"
)

// LoadEncodingsFrom makes tiktoken read rank files from dir instead of
// downloading them. Files keep their published names, e.g.
// cl100k_base.tiktoken. The setting is process-wide.
func LoadEncodingsFrom(dir string) {
	tiktoken.SetBpeLoader(dirLoader{dir: dir})
}

type dirLoader struct {
	dir string
}

func (l dirLoader) LoadTiktokenBpe(file string) (map[string]int, error) {
	name := filepath.Join(l.dir, path.Base(file))
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read rank file: %w", err)
	}

	ranks := make(map[string]int)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		fields := bytes.Fields(sc.Bytes())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: want token and rank", name, line)
		}
		token, err := base64.StdEncoding.DecodeString(string(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		rank, err := strconv.Atoi(string(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		ranks[string(token)] = rank
	}
	return ranks, sc.Err()
}
