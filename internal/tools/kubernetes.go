package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kubechat/kubechat/internal/kube"
)

func (r *Registry) registerKubernetes() {
	// Namespaces
	r.Register(&Tool{
		Name:        "list_namespaces",
		Description: "List all namespaces in the cluster with their status.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListNamespaces,
	})

	r.Register(&Tool{
		Name:        "create_namespace",
		Description: "Create a new namespace.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Name for the new namespace",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleCreateNamespace,
	})

	r.Register(&Tool{
		Name:        "delete_namespace",
		Description: "Delete a namespace and everything in it. Destructive: requires confirm=true.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Namespace to delete",
				},
				"confirm": map[string]any{
					"type":        "boolean",
					"description": "Must be true to actually delete. Ask the user first.",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleDeleteNamespace,
	})

	// Pods
	r.Register(&Tool{
		Name:        "list_pods",
		Description: "List pods in a namespace with phase, IP and age.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace to list pods from (default: default)",
				},
			},
		},
		Handler: r.handleListPods,
	})

	r.Register(&Tool{
		Name:        "get_pod",
		Description: "Get details of a single pod: phase, containers, images, node.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Pod name",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace of the pod (default: default)",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleGetPod,
	})

	r.Register(&Tool{
		Name:        "create_pod",
		Description: "Create a simple single-container pod from an image.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Pod name",
				},
				"image": map[string]any{
					"type":        "string",
					"description": "Container image (e.g. nginx:1.27)",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace to create the pod in (default: default)",
				},
				"port": map[string]any{
					"type":        "integer",
					"description": "Optional container port to expose",
				},
			},
			"required": []string{"name", "image"},
		},
		Handler: r.handleCreatePod,
	})

	r.Register(&Tool{
		Name:        "delete_pod",
		Description: "Delete a pod. Destructive: requires confirm=true.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Pod to delete",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace of the pod (default: default)",
				},
				"confirm": map[string]any{
					"type":        "boolean",
					"description": "Must be true to actually delete. Ask the user first.",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleDeletePod,
	})

	r.Register(&Tool{
		Name:        "get_pod_logs",
		Description: "Fetch recent log lines from a pod. Use to diagnose crashes and errors.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Pod name",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace of the pod (default: default)",
				},
				"tail_lines": map[string]any{
					"type":        "integer",
					"description": "Number of lines from the end of the log (default 50)",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleGetPodLogs,
	})

	// Deployments
	r.Register(&Tool{
		Name:        "list_deployments",
		Description: "List deployments in a namespace with ready/desired replica counts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace to list deployments from (default: default)",
				},
			},
		},
		Handler: r.handleListDeployments,
	})

	r.Register(&Tool{
		Name:        "get_deployment",
		Description: "Get details of a deployment: replicas, selector, container images.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Deployment name",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace of the deployment (default: default)",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleGetDeployment,
	})

	r.Register(&Tool{
		Name:        "create_deployment",
		Description: "Create a deployment running N replicas of an image.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Deployment name",
				},
				"image": map[string]any{
					"type":        "string",
					"description": "Container image (e.g. nginx:1.27)",
				},
				"replicas": map[string]any{
					"type":        "integer",
					"description": "Number of replicas (default 1)",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace to create the deployment in (default: default)",
				},
				"port": map[string]any{
					"type":        "integer",
					"description": "Optional container port to expose",
				},
			},
			"required": []string{"name", "image"},
		},
		Handler: r.handleCreateDeployment,
	})

	r.Register(&Tool{
		Name:        "delete_deployment",
		Description: "Delete a deployment and its pods. Destructive: requires confirm=true.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Deployment to delete",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace of the deployment (default: default)",
				},
				"confirm": map[string]any{
					"type":        "boolean",
					"description": "Must be true to actually delete. Ask the user first.",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleDeleteDeployment,
	})

	r.Register(&Tool{
		Name:        "scale_deployment",
		Description: "Scale a deployment to a number of replicas.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Deployment name",
				},
				"replicas": map[string]any{
					"type":        "integer",
					"description": "Desired replica count",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace of the deployment (default: default)",
				},
			},
			"required": []string{"name", "replicas"},
		},
		Handler: r.handleScaleDeployment,
	})

	// Services
	r.Register(&Tool{
		Name:        "list_services",
		Description: "List services in a namespace with type, cluster IP and ports.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace to list services from (default: default)",
				},
			},
		},
		Handler: r.handleListServices,
	})

	r.Register(&Tool{
		Name:        "create_service",
		Description: "Create a service exposing pods selected by an app label.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Service name",
				},
				"selector_app": map[string]any{
					"type":        "string",
					"description": "Value of the 'app' label to select pods by",
				},
				"port": map[string]any{
					"type":        "integer",
					"description": "Service port",
				},
				"target_port": map[string]any{
					"type":        "integer",
					"description": "Container port to forward to (default: same as port)",
				},
				"type": map[string]any{
					"type":        "string",
					"description": "Service type: ClusterIP, NodePort or LoadBalancer (default ClusterIP)",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace to create the service in (default: default)",
				},
			},
			"required": []string{"name", "selector_app", "port"},
		},
		Handler: r.handleCreateService,
	})

	r.Register(&Tool{
		Name:        "delete_service",
		Description: "Delete a service. Destructive: requires confirm=true.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Service to delete",
				},
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace of the service (default: default)",
				},
				"confirm": map[string]any{
					"type":        "boolean",
					"description": "Must be true to actually delete. Ask the user first.",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleDeleteService,
	})

	// Cluster
	r.Register(&Tool{
		Name:        "get_events",
		Description: "Fetch recent cluster events for a namespace. Use to diagnose scheduling and image problems.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"namespace": map[string]any{
					"type":        "string",
					"description": "Namespace to fetch events from (default: default)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of events (default 20)",
				},
			},
		},
		Handler: r.handleGetEvents,
	})

	r.Register(&Tool{
		Name:        "get_node_status",
		Description: "Show cluster nodes with readiness, capacity and versions. Pass a name for details on one node.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Node name for a detailed single-node report (optional)",
				},
			},
		},
		Handler: r.handleGetNodeStatus,
	})

	r.Register(&Tool{
		Name:        "get_cluster_status",
		Description: "Overall cluster summary: server version, node readiness, namespace count.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleGetClusterStatus,
	})
}

// confirmGate implements the two-step deletion protocol: without
// confirm=true the handler reports back instead of acting, and the
// agent is expected to ask the user.
func confirmGate(args map[string]any, what string) (string, bool) {
	if boolArg(args, "confirm") {
		return "", true
	}
	return fmt.Sprintf("CONFIRMATION REQUIRED: deleting %s is permanent. Ask the user to confirm, then call this tool again with confirm=true.", what), false
}

func namespaceArg(args map[string]any) string {
	if ns := stringArg(args, "namespace"); ns != "" {
		return ns
	}
	return "default"
}

func age(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// Namespace handlers

func (r *Registry) handleListNamespaces(ctx context.Context, args map[string]any) (string, error) {
	namespaces, err := r.kube.ListNamespaces(ctx)
	if err != nil {
		return "", err
	}
	if len(namespaces) == 0 {
		return "No namespaces found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d namespace(s):\n", len(namespaces))
	for _, ns := range namespaces {
		fmt.Fprintf(&b, "- %s: %s (age %s)\n", ns.Metadata.Name, ns.Status.Phase, age(ns.Metadata.CreationTimestamp))
	}
	return b.String(), nil
}

func (r *Registry) handleCreateNamespace(ctx context.Context, args map[string]any) (string, error) {
	name := stringArg(args, "name")
	if err := r.kube.CreateNamespace(ctx, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Namespace %q created.", name), nil
}

func (r *Registry) handleDeleteNamespace(ctx context.Context, args map[string]any) (string, error) {
	name := stringArg(args, "name")
	if msg, ok := confirmGate(args, fmt.Sprintf("namespace %q and every resource in it", name)); !ok {
		return msg, nil
	}
	if err := r.kube.DeleteNamespace(ctx, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Namespace %q deleted.", name), nil
}

// Pod handlers

func (r *Registry) handleListPods(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	pods, err := r.kube.ListPods(ctx, ns)
	if err != nil {
		return "", err
	}
	if len(pods) == 0 {
		return fmt.Sprintf("No pods in namespace %q.", ns), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d pod(s) in %s:\n", len(pods), ns)
	for _, p := range pods {
		fmt.Fprintf(&b, "- %s: %s", p.Metadata.Name, p.Status.Phase)
		if p.Status.PodIP != "" {
			fmt.Fprintf(&b, ", IP %s", p.Status.PodIP)
		}
		fmt.Fprintf(&b, ", age %s\n", age(p.Metadata.CreationTimestamp))
	}
	return b.String(), nil
}

func (r *Registry) handleGetPod(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	pod, err := r.kube.GetPod(ctx, ns, stringArg(args, "name"))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pod: %s/%s\nPhase: %s\n", ns, pod.Metadata.Name, pod.Status.Phase)
	if pod.Status.PodIP != "" {
		fmt.Fprintf(&b, "IP: %s\n", pod.Status.PodIP)
	}
	if pod.Spec.NodeName != "" {
		fmt.Fprintf(&b, "Node: %s\n", pod.Spec.NodeName)
	}
	for _, c := range pod.Spec.Containers {
		fmt.Fprintf(&b, "Container: %s (image %s)\n", c.Name, c.Image)
	}
	return b.String(), nil
}

func (r *Registry) handleCreatePod(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	name := stringArg(args, "name")
	image := stringArg(args, "image")

	container := kube.Container{Name: name, Image: image}
	if port := intArg(args, "port", 0); port > 0 {
		container.Ports = []kube.ContainerPort{{ContainerPort: port}}
	}

	pod := kube.Pod{
		TypeMeta: kube.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		Metadata: kube.ObjectMeta{
			Name:   name,
			Labels: map[string]string{"app": name},
		},
		Spec: kube.PodSpec{Containers: []kube.Container{container}},
	}
	if err := r.kube.CreatePod(ctx, ns, pod); err != nil {
		return "", err
	}
	return fmt.Sprintf("Pod %s/%s created from image %s.", ns, name, image), nil
}

func (r *Registry) handleDeletePod(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	name := stringArg(args, "name")
	if msg, ok := confirmGate(args, fmt.Sprintf("pod %s/%s", ns, name)); !ok {
		return msg, nil
	}
	if err := r.kube.DeletePod(ctx, ns, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Pod %s/%s deleted.", ns, name), nil
}

func (r *Registry) handleGetPodLogs(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	name := stringArg(args, "name")
	tail := intArg(args, "tail_lines", 50)

	logs, err := r.kube.PodLogs(ctx, ns, name, tail)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(logs) == "" {
		return fmt.Sprintf("Pod %s/%s has no log output.", ns, name), nil
	}
	return fmt.Sprintf("Last %d line(s) of %s/%s:\n%s", tail, ns, name, logs), nil
}

// Deployment handlers

func (r *Registry) handleListDeployments(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	deployments, err := r.kube.ListDeployments(ctx, ns)
	if err != nil {
		return "", err
	}
	if len(deployments) == 0 {
		return fmt.Sprintf("No deployments in namespace %q.", ns), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d deployment(s) in %s:\n", len(deployments), ns)
	for _, d := range deployments {
		fmt.Fprintf(&b, "- %s: %d/%d ready, age %s\n",
			d.Metadata.Name, d.Status.ReadyReplicas, d.Spec.Replicas, age(d.Metadata.CreationTimestamp))
	}
	return b.String(), nil
}

func (r *Registry) handleGetDeployment(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	dep, err := r.kube.GetDeployment(ctx, ns, stringArg(args, "name"))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Deployment: %s/%s\nReplicas: %d desired, %d ready, %d available\n",
		ns, dep.Metadata.Name, dep.Spec.Replicas, dep.Status.ReadyReplicas, dep.Status.AvailableReplicas)
	if len(dep.Spec.Selector.MatchLabels) > 0 {
		fmt.Fprintf(&b, "Selector: %v\n", dep.Spec.Selector.MatchLabels)
	}
	for _, c := range dep.Spec.Template.Spec.Containers {
		fmt.Fprintf(&b, "Container: %s (image %s)\n", c.Name, c.Image)
	}
	return b.String(), nil
}

func (r *Registry) handleCreateDeployment(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	name := stringArg(args, "name")
	image := stringArg(args, "image")
	replicas := intArg(args, "replicas", 1)

	container := kube.Container{Name: name, Image: image}
	if port := intArg(args, "port", 0); port > 0 {
		container.Ports = []kube.ContainerPort{{ContainerPort: port}}
	}

	labels := map[string]string{"app": name}
	dep := kube.Deployment{
		TypeMeta: kube.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		Metadata: kube.ObjectMeta{Name: name, Labels: labels},
		Spec: kube.DeploymentSpec{
			Replicas: replicas,
			Selector: kube.LabelSelector{MatchLabels: labels},
			Template: kube.PodTemplateSpec{
				Metadata: kube.ObjectMeta{Labels: labels},
				Spec:     kube.PodSpec{Containers: []kube.Container{container}},
			},
		},
	}
	if err := r.kube.CreateDeployment(ctx, ns, dep); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deployment %s/%s created: %d replica(s) of %s.", ns, name, replicas, image), nil
}

func (r *Registry) handleDeleteDeployment(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	name := stringArg(args, "name")
	if msg, ok := confirmGate(args, fmt.Sprintf("deployment %s/%s and its pods", ns, name)); !ok {
		return msg, nil
	}
	if err := r.kube.DeleteDeployment(ctx, ns, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deployment %s/%s deleted.", ns, name), nil
}

func (r *Registry) handleScaleDeployment(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	name := stringArg(args, "name")
	replicas := intArg(args, "replicas", -1)
	if replicas < 0 {
		return "", fmt.Errorf("%w: replicas must be zero or greater", ErrInvalidArguments)
	}

	if err := r.kube.ScaleDeployment(ctx, ns, name, replicas); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deployment %s/%s scaled to %d replica(s).", ns, name, replicas), nil
}

// Service handlers

func (r *Registry) handleListServices(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	services, err := r.kube.ListServices(ctx, ns)
	if err != nil {
		return "", err
	}
	if len(services) == 0 {
		return fmt.Sprintf("No services in namespace %q.", ns), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d service(s) in %s:\n", len(services), ns)
	for _, s := range services {
		var ports []string
		for _, p := range s.Spec.Ports {
			ports = append(ports, fmt.Sprintf("%d->%d", p.Port, p.TargetPort))
		}
		fmt.Fprintf(&b, "- %s: %s, cluster IP %s, ports [%s]\n",
			s.Metadata.Name, s.Spec.Type, s.Spec.ClusterIP, strings.Join(ports, ", "))
	}
	return b.String(), nil
}

func (r *Registry) handleCreateService(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	name := stringArg(args, "name")
	app := stringArg(args, "selector_app")
	port := intArg(args, "port", 0)
	targetPort := intArg(args, "target_port", port)
	svcType := stringArg(args, "type")
	if svcType == "" {
		svcType = "ClusterIP"
	}

	svc := kube.Service{
		TypeMeta: kube.TypeMeta{APIVersion: "v1", Kind: "Service"},
		Metadata: kube.ObjectMeta{Name: name},
		Spec: kube.ServiceSpec{
			Type:     svcType,
			Selector: map[string]string{"app": app},
			Ports:    []kube.ServicePort{{Port: port, TargetPort: targetPort, Protocol: "TCP"}},
		},
	}
	if err := r.kube.CreateService(ctx, ns, svc); err != nil {
		return "", err
	}
	return fmt.Sprintf("Service %s/%s created: %s port %d -> app=%s:%d.", ns, name, svcType, port, app, targetPort), nil
}

func (r *Registry) handleDeleteService(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	name := stringArg(args, "name")
	if msg, ok := confirmGate(args, fmt.Sprintf("service %s/%s", ns, name)); !ok {
		return msg, nil
	}
	if err := r.kube.DeleteService(ctx, ns, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Service %s/%s deleted.", ns, name), nil
}

// Cluster handlers

func (r *Registry) handleGetEvents(ctx context.Context, args map[string]any) (string, error) {
	ns := namespaceArg(args)
	limit := intArg(args, "limit", 20)

	events, err := r.kube.ListEvents(ctx, ns, limit)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("No recent events in namespace %q.", ns), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d event(s) in %s:\n", len(events), ns)
	for _, e := range events {
		fmt.Fprintf(&b, "- [%s] %s %s/%s: %s (%s)\n",
			e.Type, e.Reason, e.InvolvedObject.Kind, e.InvolvedObject.Name, e.Message, age(e.LastTimestamp))
	}
	return b.String(), nil
}

func (r *Registry) handleGetNodeStatus(ctx context.Context, args map[string]any) (string, error) {
	if name := stringArg(args, "name"); name != "" {
		node, err := r.kube.GetNode(ctx, name)
		if err != nil {
			return "", err
		}
		status := "NotReady"
		if node.Ready() {
			status = "Ready"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Node %s: %s\n", node.Metadata.Name, status)
		info := node.Status.NodeInfo
		fmt.Fprintf(&b, "- kubelet: %s\n", info.KubeletVersion)
		if info.OSImage != "" {
			fmt.Fprintf(&b, "- os: %s\n", info.OSImage)
		}
		if info.ContainerRuntimeVersion != "" {
			fmt.Fprintf(&b, "- runtime: %s\n", info.ContainerRuntimeVersion)
		}
		if info.Architecture != "" {
			fmt.Fprintf(&b, "- arch: %s\n", info.Architecture)
		}
		if cpu, ok := node.Status.Capacity["cpu"]; ok {
			fmt.Fprintf(&b, "- cpu: %s\n", cpu)
		}
		if mem, ok := node.Status.Capacity["memory"]; ok {
			fmt.Fprintf(&b, "- memory: %s\n", mem)
		}
		for _, c := range node.Status.Conditions {
			if c.Type == "Ready" {
				continue
			}
			fmt.Fprintf(&b, "- condition %s: %s", c.Type, c.Status)
			if c.Reason != "" {
				fmt.Fprintf(&b, " (%s)", c.Reason)
			}
			b.WriteString("\n")
		}
		return b.String(), nil
	}

	nodes, err := r.kube.ListNodes(ctx)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "No nodes found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d node(s):\n", len(nodes))
	for _, n := range nodes {
		status := "NotReady"
		if n.Ready() {
			status = "Ready"
		}
		fmt.Fprintf(&b, "- %s: %s, kubelet %s", n.Metadata.Name, status, n.Status.NodeInfo.KubeletVersion)
		if cpu, ok := n.Status.Capacity["cpu"]; ok {
			fmt.Fprintf(&b, ", cpu %s", cpu)
		}
		if mem, ok := n.Status.Capacity["memory"]; ok {
			fmt.Fprintf(&b, ", memory %s", mem)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (r *Registry) handleGetClusterStatus(ctx context.Context, args map[string]any) (string, error) {
	version, err := r.kube.Version(ctx)
	if err != nil {
		return "", err
	}
	nodes, err := r.kube.ListNodes(ctx)
	if err != nil {
		return "", err
	}
	namespaces, err := r.kube.ListNamespaces(ctx)
	if err != nil {
		return "", err
	}

	ready := 0
	for _, n := range nodes {
		if n.Ready() {
			ready++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cluster status:\n")
	fmt.Fprintf(&b, "Server version: %s\n", version.GitVersion)
	fmt.Fprintf(&b, "Nodes: %d/%d ready\n", ready, len(nodes))
	fmt.Fprintf(&b, "Namespaces: %d\n", len(namespaces))
	return b.String(), nil
}
