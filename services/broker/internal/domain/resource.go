package domain

import "fmt"

// ResourceType 자원 타입
type ResourceType string

const (
	ResourceTypeCompute    ResourceType = "COMPUTE"
	ResourceTypeNetwork    ResourceType = "NETWORK"
	ResourceTypeVolume     ResourceType = "VOLUME"
	ResourceTypeAttachment ResourceType = "ATTACHMENT"
	ResourceTypePublicIP   ResourceType = "PUBLIC_IP"
)

// embeddableTypes 타입별로 내장할 수 있는 주문 타입
var embeddableTypes = map[ResourceType][]ResourceType{
	ResourceTypeCompute:    {ResourceTypeNetwork},
	ResourceTypeNetwork:    nil,
	ResourceTypeVolume:     nil,
	ResourceTypeAttachment: {ResourceTypeCompute, ResourceTypeVolume},
	ResourceTypePublicIP:   {ResourceTypeCompute},
}

// ParseResourceType 문자열을 자원 타입으로 변환
func ParseResourceType(s string) (ResourceType, error) {
	t := ResourceType(s)
	if _, ok := embeddableTypes[t]; !ok {
		return "", fmt.Errorf("unknown resource type %q", s)
	}
	return t, nil
}

// CanEmbed t 타입 주문이 embedded 타입 주문을 참조할 수 있는지 확인
func (t ResourceType) CanEmbed(embedded ResourceType) bool {
	for _, allowed := range embeddableTypes[t] {
		if allowed == embedded {
			return true
		}
	}
	return false
}

// Allocation 자원 사용량
type Allocation struct {
	Instances int `json:"instances"`
	VCPU      int `json:"vCPU"`
	RAM       int `json:"ram"`
	Disk      int `json:"disk"`
	Storage   int `json:"storage"`
}

// Add 원소별 합
func (a Allocation) Add(b Allocation) Allocation {
	return Allocation{
		Instances: a.Instances + b.Instances,
		VCPU:      a.VCPU + b.VCPU,
		RAM:       a.RAM + b.RAM,
		Disk:      a.Disk + b.Disk,
		Storage:   a.Storage + b.Storage,
	}
}

// Sub 원소별 차
func (a Allocation) Sub(b Allocation) Allocation {
	return Allocation{
		Instances: a.Instances - b.Instances,
		VCPU:      a.VCPU - b.VCPU,
		RAM:       a.RAM - b.RAM,
		Disk:      a.Disk - b.Disk,
		Storage:   a.Storage - b.Storage,
	}
}

// User 주문 소유자
type User struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	IdentityProvider string `json:"identityProvider"`
}

// SameAs 동일 사용자 여부 (이름은 비교하지 않음)
func (u User) SameAs(other User) bool {
	return u.ID == other.ID && u.IdentityProvider == other.IdentityProvider
}

// Instance 클라우드 측 자원 스냅샷
type Instance struct {
	ID         string        `json:"id"`
	Provider   string        `json:"provider"`
	CloudName  string        `json:"cloudName"`
	State      InstanceState `json:"state"`
	Allocation *Allocation   `json:"allocation,omitempty"`
}

// InstanceStatus 상태 목록 조회용 경량 레코드
type InstanceStatus struct {
	ID        string        `json:"id"`
	Provider  string        `json:"provider"`
	CloudName string        `json:"cloudName"`
	State     InstanceState `json:"state"`
}

// Quota 사용자 쿼터
type Quota struct {
	Total     Allocation `json:"total"`
	Available Allocation `json:"available"`
}

// Used 사용 중인 양
func (q Quota) Used() Allocation {
	return q.Total.Sub(q.Available)
}
