// Package soar provides a native Go client for the Splunk SOAR REST API.
//
// # Features
//
//   - Service-based architecture for expandability
//   - Open, map-backed records that round-trip any server field
//   - Playbook runs with automatic prompt answering
//   - Modern Go 1.23+ iterators for pagination
//   - Typed errors for precise error handling
//   - Functional options for flexible configuration
//
// # Quick Start
//
//	client, err := soar.NewClient(
//	    soar.WithBaseURL("https://soar.example.com"),
//	    soar.WithToken(token),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	container := soar.NewContainer(soar.Fields{"name": "T", "label": "workbench"})
//	container.AddArtifacts(soar.NewArtifact(soar.Fields{"name": "a1", "label": "l1"}))
//
//	if _, err := client.CreateContainer(ctx, container); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("created container", container.ID())
//
// # Running Playbooks
//
// Prompt answers are configured per prompt name. Each time the named prompt
// shows up during the run it receives the next answer in its list:
//
//	pb := soar.NewPlaybook(soar.Fields{
//	    "name":    "local/triage",
//	    "prompts": map[string][]string{"prompt_1": {"Yes", "No"}},
//	})
//	results, err := client.RunPlaybooks(ctx, container, []*soar.Playbook{pb})
//
// A failed run returns a *PlaybookError. Pass WithSuppressErrors to run every
// playbook and inspect RunResult.Success instead.
//
// # Error Handling
//
// The package uses typed errors that can be inspected with errors.As:
//
//	container, err := client.Containers.Get(ctx, 42)
//	if err != nil {
//	    var notFound *soar.NotFoundError
//	    if errors.As(err, &notFound) {
//	        // Handle not found
//	    }
//	}
//
// Operations that need a server id on an object that has none fail with a
// *ReferenceError before any request is sent.
//
// # Pagination
//
// Use iterators for automatic pagination:
//
//	for c, err := range client.Containers.List(ctx, soar.Query{"_filter_label": "events"}) {
//	    // ...
//	}
//
//	// Collect all results into a slice
//	artifacts, err := soar.Collect(client.Artifacts.List(ctx, nil))
//
// # Files
//
// Vault uploads attach a file to a container, or import a container export
// when no container id is given:
//
//	up, err := client.Vault.UploadFile(ctx, "evidence.pcap", container.ID())
//
// Containers.Export streams a container tarball to any io.Writer.
package soar
