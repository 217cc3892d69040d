package transgeo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeProber map[string]Size

func (fp fakeProber) ProbeSize(filename string) (Size, error) {
	sz, ok := fp[filepath.Base(filename)]
	if !ok {
		return Size{}, fmt.Errorf("cannot decode %s", filename)
	}
	return sz, nil
}

func touch(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(root, filepath.FromSlash(n))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("png"), 0o644))
	}
}

func TestScanAerial(t *testing.T) {
	dir := t.TempDir()
	good := "1_10.5_50.5_10.0_51.0_11.0_50.0_9.5_51.5_11.5_49.5.png"
	basic := "2_-4.5_-3.5_137.25_138.25.png"
	touch(t, dir, good, basic, "notes.txt", "badname.png", "sub/3_-4.5_-3.5_137.25_138.25.png")

	tiles, err := ScanAerial(dir, ScanLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.Len(t, tiles, 2)
	assert.Equal(t, 1, tiles[good].ID)
	assert.Equal(t, Size{}, tiles[good].Size)
	assert.Equal(t, 2, tiles[basic].ID)
	assert.NotNil(t, tiles[basic].Positive)

	tiles, err = ScanAerial(dir, ScanProber(fakeProber{good: {W: 640, H: 640}}), ScanParallelism(3))
	require.NoError(t, err)
	assert.Len(t, tiles, 1)
	assert.Equal(t, Size{W: 640, H: 640}, tiles[good].Size)

	_, err = ScanAerial(filepath.Join(dir, "missing"))
	assert.Error(t, err)
	_, err = ScanAerial(dir, ScanParallelism(0))
	assert.Error(t, err)
}

func TestScanGround(t *testing.T) {
	root := t.TempDir()
	touch(t, root,
		"run1/4096x1024/LAT_18.4447LONG_77.4508_NLF_0123_0671.png",
		"run1/raw/LAT_18.5LONG_77.5_NLF_0124_0001.png",
		"run1/raw/-4.58_137.44_pano.png",
		"run1/raw/unlabelled.png",
		"LAT_1.0LONG_2.0_top.png",
	)

	images, err := ScanGround(root, ScanLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.Len(t, images, 1)
	img := images["run1/4096x1024/LAT_18.4447LONG_77.4508_NLF_0123_0671.png"]
	assert.Equal(t, Size{W: 4096, H: 1024}, img.Size)
	assert.Equal(t, LonLat{Lon: 77.4508, Lat: 18.4447}, img.Location)

	images, err = ScanGround(root, ScanProber(fakeProber{
		"LAT_18.5LONG_77.5_NLF_0124_0001.png": {W: 2000, H: 500},
	}), ScanParallelism(2))
	require.NoError(t, err)
	assert.Len(t, images, 2)
	assert.Equal(t, Size{W: 2000, H: 500}, images["run1/raw/LAT_18.5LONG_77.5_NLF_0124_0001.png"].Size)
	for k := range images {
		assert.False(t, strings.Contains(k, "\\"))
	}
}
