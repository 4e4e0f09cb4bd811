package kube

import "time"

// ObjectMeta is the subset of Kubernetes object metadata the agent uses.
type ObjectMeta struct {
	Name              string            `json:"name,omitempty"`
	Namespace         string            `json:"namespace,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	CreationTimestamp time.Time         `json:"creationTimestamp,omitempty"`
}

// TypeMeta carries the apiVersion/kind pair required on create requests.
type TypeMeta struct {
	APIVersion string `json:"apiVersion,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// Namespace is a cluster namespace.
type Namespace struct {
	TypeMeta `json:",inline"`
	Metadata ObjectMeta      `json:"metadata"`
	Status   NamespaceStatus `json:"status,omitempty"`
}

// NamespaceStatus reports the namespace lifecycle phase.
type NamespaceStatus struct {
	Phase string `json:"phase,omitempty"`
}

// NamespaceList is the list envelope for namespaces.
type NamespaceList struct {
	Items []Namespace `json:"items"`
}

// Container is a single container in a pod spec.
type Container struct {
	Name  string          `json:"name"`
	Image string          `json:"image"`
	Ports []ContainerPort `json:"ports,omitempty"`
}

// ContainerPort exposes a port from a container.
type ContainerPort struct {
	ContainerPort int `json:"containerPort"`
}

// PodSpec is the subset of a pod spec the agent builds and reads.
type PodSpec struct {
	Containers []Container `json:"containers"`
	NodeName   string      `json:"nodeName,omitempty"`
}

// PodStatus reports pod runtime state.
type PodStatus struct {
	Phase     string    `json:"phase,omitempty"`
	PodIP     string    `json:"podIP,omitempty"`
	StartTime time.Time `json:"startTime,omitempty"`
}

// Pod is a cluster pod.
type Pod struct {
	TypeMeta `json:",inline"`
	Metadata ObjectMeta `json:"metadata"`
	Spec     PodSpec    `json:"spec"`
	Status   PodStatus  `json:"status,omitempty"`
}

// PodList is the list envelope for pods.
type PodList struct {
	Items []Pod `json:"items"`
}

// LabelSelector matches objects by label.
type LabelSelector struct {
	MatchLabels map[string]string `json:"matchLabels,omitempty"`
}

// PodTemplateSpec is the pod template embedded in a deployment.
type PodTemplateSpec struct {
	Metadata ObjectMeta `json:"metadata"`
	Spec     PodSpec    `json:"spec"`
}

// DeploymentSpec is the subset of a deployment spec the agent uses.
type DeploymentSpec struct {
	Replicas int             `json:"replicas"`
	Selector LabelSelector   `json:"selector"`
	Template PodTemplateSpec `json:"template"`
}

// DeploymentStatus reports deployment rollout state.
type DeploymentStatus struct {
	Replicas          int `json:"replicas,omitempty"`
	UpdatedReplicas   int `json:"updatedReplicas,omitempty"`
	ReadyReplicas     int `json:"readyReplicas,omitempty"`
	AvailableReplicas int `json:"availableReplicas,omitempty"`
}

// Deployment is a cluster deployment.
type Deployment struct {
	TypeMeta `json:",inline"`
	Metadata ObjectMeta       `json:"metadata"`
	Spec     DeploymentSpec   `json:"spec"`
	Status   DeploymentStatus `json:"status,omitempty"`
}

// DeploymentList is the list envelope for deployments.
type DeploymentList struct {
	Items []Deployment `json:"items"`
}

// ServicePort maps a service port to a target port.
type ServicePort struct {
	Port       int    `json:"port"`
	TargetPort int    `json:"targetPort,omitempty"`
	Protocol   string `json:"protocol,omitempty"`
}

// ServiceSpec is the subset of a service spec the agent uses.
type ServiceSpec struct {
	Type      string            `json:"type,omitempty"`
	ClusterIP string            `json:"clusterIP,omitempty"`
	Selector  map[string]string `json:"selector,omitempty"`
	Ports     []ServicePort     `json:"ports,omitempty"`
}

// Service is a cluster service.
type Service struct {
	TypeMeta `json:",inline"`
	Metadata ObjectMeta  `json:"metadata"`
	Spec     ServiceSpec `json:"spec"`
}

// ServiceList is the list envelope for services.
type ServiceList struct {
	Items []Service `json:"items"`
}

// ObjectReference identifies the object an event is about.
type ObjectReference struct {
	Kind      string `json:"kind,omitempty"`
	Name      string `json:"name,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// Event is a cluster event.
type Event struct {
	Metadata       ObjectMeta      `json:"metadata"`
	InvolvedObject ObjectReference `json:"involvedObject"`
	Reason         string          `json:"reason,omitempty"`
	Message        string          `json:"message,omitempty"`
	Type           string          `json:"type,omitempty"`
	Count          int             `json:"count,omitempty"`
	LastTimestamp  time.Time       `json:"lastTimestamp,omitempty"`
}

// EventList is the list envelope for events.
type EventList struct {
	Items []Event `json:"items"`
}

// NodeCondition is one entry of a node's condition list.
type NodeCondition struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// NodeSystemInfo reports node software versions.
type NodeSystemInfo struct {
	KubeletVersion          string `json:"kubeletVersion,omitempty"`
	OSImage                 string `json:"osImage,omitempty"`
	ContainerRuntimeVersion string `json:"containerRuntimeVersion,omitempty"`
	Architecture            string `json:"architecture,omitempty"`
}

// NodeStatus reports node state.
type NodeStatus struct {
	Conditions []NodeCondition   `json:"conditions,omitempty"`
	Capacity   map[string]string `json:"capacity,omitempty"`
	NodeInfo   NodeSystemInfo    `json:"nodeInfo,omitempty"`
}

// Node is a cluster node.
type Node struct {
	Metadata ObjectMeta `json:"metadata"`
	Status   NodeStatus `json:"status,omitempty"`
}

// NodeList is the list envelope for nodes.
type NodeList struct {
	Items []Node `json:"items"`
}

// VersionInfo is the API server's /version response.
type VersionInfo struct {
	Major      string `json:"major"`
	Minor      string `json:"minor"`
	GitVersion string `json:"gitVersion"`
	Platform   string `json:"platform"`
}

// Ready reports whether the node's Ready condition is True.
func (n Node) Ready() bool {
	for _, c := range n.Status.Conditions {
		if c.Type == "Ready" {
			return c.Status == "True"
		}
	}
	return false
}
