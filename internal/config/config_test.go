package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codaproj/coda/modules/backend"
	"github.com/codaproj/coda/modules/filter"
	"github.com/codaproj/coda/modules/monitor"
)

const testConfigJSON = `{
	"node_number": 8,
	"frontend_id": "fe-0",
	"k": 3,
	"log_level": "debug",
	"encode_config": {"backup_num": 2, "encoder_type": "linear"},
	"decode_config": {"decoder_type": "linear", "decoder_simulate": false},
	"triton_config": {"scale": "vgg", "model": "resnet50"},
	"preprocess_config": {"format": "chw", "dtype": "float32", "channel": 3, "height": 224, "width": 224},
	"filter_config": {"type": "auto", "cdc_ratio": 0.5},
	"batch_config": {"mode": "auto", "batch_size_1": 4, "batch_size_2": 4, "inc_value": 1, "dec_value": 0.5},
	"monitor_config": {"update_mode": "query", "update_interval": 10, "algorithm": "ldd", "recovery_time": 3, "top_k": 2},
	"client_config": {"query_rate": 10, "query_arrival_distribution": "poisson"},
	"cache_config": {"strategy": "lru", "use_cache": true, "capacity": 128},
	"backend_IPs": [
		{"trace": "zoneA.trace", "region_id": "us-east", "ip_list": ["10.0.0.1", "10.0.0.2"]},
		{"trace": "zoneB.trace", "region_id": "us-west", "ip_list": ["10.0.1.1"]}
	],
	"frontend_ips": ["10.1.0.1"]
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "coda.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndValidateWellFormedConfig(t *testing.T) {
	path := writeConfig(t, testConfigJSON)

	root, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, root.Validate())

	require.Equal(t, 8, root.NodeNumber)
	require.Equal(t, 3, root.K)
	require.Equal(t, 2, root.Encode.BackupNum)
	require.Len(t, root.BackendIPs, 2)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, root.BackendIPs[0].IPList)
}

func TestBuildFilterConfigAutoMode(t *testing.T) {
	root, err := Load(writeConfig(t, testConfigJSON))
	require.NoError(t, err)

	fc, err := root.BuildFilterConfig()
	require.NoError(t, err)
	require.Equal(t, filter.ModeAuto, fc.Mode)
	require.Equal(t, 0.5, fc.CDCRatio)
	require.Equal(t, 8, fc.N)
	require.Equal(t, 3, fc.K)
}

func TestBuildMonitorConfigLDD(t *testing.T) {
	root, err := Load(writeConfig(t, testConfigJSON))
	require.NoError(t, err)

	mc, err := root.BuildMonitorConfig()
	require.NoError(t, err)
	require.Equal(t, monitor.AlgorithmLDD, mc.Algorithm)
	require.Equal(t, monitor.UpdateModeQuery, mc.UpdateMode)
	require.Equal(t, 4, mc.CEEBoundKPlus1) // k=3 -> k+1=4
}

func TestBuildBackendConfigAutoMode(t *testing.T) {
	root, err := Load(writeConfig(t, testConfigJSON))
	require.NoError(t, err)

	bc, err := root.BuildBackendConfig()
	require.NoError(t, err)
	require.Equal(t, backend.BatchModeAuto, bc.Mode)
	require.Equal(t, 4, bc.BatchSizeBackup)
	require.True(t, bc.Cache.UseCache)
}

func TestBuildClientConfigCarriesFrontendIPs(t *testing.T) {
	root, err := Load(writeConfig(t, testConfigJSON))
	require.NoError(t, err)

	cc, err := root.BuildClientConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"10.1.0.1"}, cc.FrontendIPs)
	require.Equal(t, 10.0, cc.QueryRate)
}

func TestValidateRejectsUnknownAlgorithm(t *testing.T) {
	body := `{"k": 1, "encode_config": {"backup_num": 1}, "backend_IPs": [{"ip_list": ["10.0.0.1"]}], "monitor_config": {"algorithm": "not-a-real-algorithm"}}`
	root, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	require.Error(t, root.Validate())
}

func TestValidateRejectsMissingK(t *testing.T) {
	body := `{"encode_config": {"backup_num": 1}, "backend_IPs": [{"ip_list": ["10.0.0.1"]}]}`
	root, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	require.Error(t, root.Validate())
}

func TestValidateRejectsEmptyBackendIPs(t *testing.T) {
	body := `{"k": 1, "encode_config": {"backup_num": 1}}`
	root, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	require.Error(t, root.Validate())
}
