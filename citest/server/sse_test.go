package server_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/toolguard/citest/testutil"
	"github.com/opencode-ai/toolguard/internal/permission"
)

var _ = Describe("SSE Event Streaming", func() {
	var sseClient *testutil.SSEClient

	connect := func(path string) {
		sseClient = testServer.SSEClient()
		Expect(sseClient.Connect(ctx, path)).To(Succeed())
		_, err := sseClient.WaitForEvent("server.connected", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
	}

	AfterEach(func() {
		if sseClient != nil {
			sseClient.Close()
			sseClient = nil
		}
	})

	Describe("GET /event", func() {
		It("should return SSE headers", func() {
			req, err := http.NewRequest("GET", testServer.BaseURL+"/event", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Accept", "text/event-stream")

			httpClient := &http.Client{Timeout: 5 * time.Second}
			resp, err := httpClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(200))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
		})

		It("should deliver decision events", func() {
			connect("/event")

			_, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "rm -rf /tmp/x"})
			Expect(err).NotTo(HaveOccurred())

			evt, err := sseClient.WaitForEvent("decision.made", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			data, err := evt.ParseDecisionEvent()
			Expect(err).NotTo(HaveOccurred())
			Expect(data.ToolName).To(Equal("Bash"))
			Expect(data.Behavior).To(Equal("deny"))
			Expect(data.Rule).To(Equal("Bash(rm:*)"))
		})

		It("should filter events of other sessions", func() {
			mine := "sse-" + testutil.RandomString(8)
			connect("/event?sessionID=" + mine)

			_, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "git status", SessionID: "someone-else"})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "make test", SessionID: mine})
			Expect(err).NotTo(HaveOccurred())

			evt, err := sseClient.WaitForEvent("decision.made", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			data, err := evt.ParseDecisionEvent()
			Expect(err).NotTo(HaveOccurred())
			Expect(data.SessionID).To(Equal(mine))
			Expect(data.Content).To(Equal("make test"))
		})

		It("should announce pending requests and their replies", func() {
			connect("/event")

			done := make(chan *testutil.RequestResult, 1)
			go func() {
				defer GinkgoRecover()
				res, err := client.Request(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "kubectl get pods"})
				Expect(err).NotTo(HaveOccurred())
				done <- res
			}()

			evt, err := sseClient.WaitForEvent("permission.required", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			req, err := evt.ParsePermissionRequired()
			Expect(err).NotTo(HaveOccurred())
			Expect(req.ToolName).To(Equal("Bash"))
			Expect(req.Content).To(Equal("kubectl get pods"))
			Expect(req.Suggestions).To(ContainElement("Bash(kubectl get:*)"))

			Expect(client.Respond(ctx, req.ID, "reject")).To(Succeed())

			_, err = sseClient.WaitForEvent("permission.resolved", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			var res *testutil.RequestResult
			Eventually(done, 5*time.Second).Should(Receive(&res))
			Expect(res.Granted).To(BeFalse())
		})
	})

	Describe("Settings reload", Ordered, func() {
		var original string

		BeforeAll(func() {
			original = projectSettings.JSON()
		})

		AfterAll(func() {
			Expect(testServer.WriteSettings(permission.ScopeProjectSettings, original)).To(Succeed())
			Eventually(func() string {
				d, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "npm run test --coverage"})
				Expect(err).NotTo(HaveOccurred())
				return d.Behavior
			}, 5*time.Second, 50*time.Millisecond).Should(Equal("allow"))
		})

		It("should reload rules when a settings file changes", func() {
			connect("/event")

			updated := testutil.NewSettings().
				Allow("Bash(git status)", "Bash(go test:*)").
				Deny("Bash(rm:*)").
				JSON()
			Expect(testServer.WriteSettings(permission.ScopeProjectSettings, updated)).To(Succeed())

			// A write may be seen in several steps; wait for the one that
			// carries the new rule.
			Eventually(func() string {
				evt, err := sseClient.WaitForEvent("rules.reloaded", 5*time.Second)
				Expect(err).NotTo(HaveOccurred())
				data, err := evt.ParseRulesReloaded()
				Expect(err).NotTo(HaveOccurred())
				return data.Diff
			}, 10*time.Second).Should(ContainSubstring("Bash(go test:*)"))

			d, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "go test ./..."})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Behavior).To(Equal("allow"))
		})

		It("should reload on request", func() {
			before, err := client.Rules(ctx)
			Expect(err).NotTo(HaveOccurred())

			rs, err := client.Reload(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rs.Version).To(BeNumerically(">", before.Version))
		})
	})
})
