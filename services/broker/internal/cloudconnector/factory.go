package cloudconnector

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/errors"
)

// RemoteConnectorFunc 원격 멤버용 커넥터 생성 함수
type RemoteConnectorFunc func(provider, cloudName string) (CloudConnector, error)

type connectorKey struct {
	provider string
	cloud    string
}

// Factory (provider, cloud) 별 커넥터 조회
type Factory struct {
	localMember string
	remote      RemoteConnectorFunc
	logger      *zap.Logger

	mu         sync.Mutex
	plugins    map[string]Plugin
	connectors map[connectorKey]CloudConnector
}

// NewFactory 커넥터 팩토리 생성
func NewFactory(localMember string, remote RemoteConnectorFunc, logger *zap.Logger) *Factory {
	return &Factory{
		localMember: localMember,
		remote:      remote,
		logger:      logger,
		plugins:     make(map[string]Plugin),
		connectors:  make(map[connectorKey]CloudConnector),
	}
}

// RegisterPlugin 로컬 클라우드 플러그인 등록
func (f *Factory) RegisterPlugin(cloudName string, plugin Plugin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plugins[cloudName] = plugin
	delete(f.connectors, connectorKey{provider: f.localMember, cloud: cloudName})
}

// Clouds 등록된 로컬 클라우드 이름
func (f *Factory) Clouds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.plugins))
	for name := range f.plugins {
		names = append(names, name)
	}
	return names
}

// Connector 커넥터 조회 (생성 후 캐시)
func (f *Factory) Connector(provider, cloudName string) (CloudConnector, error) {
	key := connectorKey{provider: provider, cloud: cloudName}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.connectors[key]; ok {
		return c, nil
	}

	var (
		c   CloudConnector
		err error
	)
	if provider == f.localMember {
		plugin, ok := f.plugins[cloudName]
		if !ok {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter, "unknown cloud %s", cloudName)
		}
		c = NewLocalCloudConnector(f.localMember, cloudName, plugin, f.logger)
	} else {
		if f.remote == nil {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter, "unknown federation member %s", provider)
		}
		if c, err = f.remote(provider, cloudName); err != nil {
			return nil, err
		}
	}

	f.connectors[key] = c
	return c, nil
}
