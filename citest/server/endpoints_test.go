package server_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/toolguard/citest/testutil"
)

var _ = Describe("Server Endpoints Integration Tests", func() {

	Describe("GET /health", func() {
		It("should report the project root", func() {
			resp, err := client.Get(ctx, "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))

			var body map[string]string
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body["status"]).To(Equal("ok"))
			Expect(body["rootDir"]).To(Equal(testServer.WorkDir))
		})
	})

	// ==================== Decisions ====================
	Describe("POST /permission/check", func() {
		DescribeTable("should decide invocations",
			func(req testutil.CheckRequest, behavior, reason, source string) {
				d, err := client.Check(ctx, req)
				Expect(err).NotTo(HaveOccurred())
				Expect(d.ID).NotTo(BeEmpty())
				Expect(d.Behavior).To(Equal(behavior))
				Expect(d.ReasonType()).To(Equal(reason))
				if source != "" {
					Expect(d.Rule).NotTo(BeNil())
					Expect(d.Rule.Source).To(Equal(source))
				}
			},
			Entry("exact allow rule",
				testutil.CheckRequest{ToolName: "Bash", Content: "git status"}, "allow", "rule", "projectSettings"),
			Entry("prefix allow rule",
				testutil.CheckRequest{ToolName: "Bash", Content: "npm run test --coverage"}, "allow", "rule", "projectSettings"),
			Entry("user scope rule",
				testutil.CheckRequest{ToolName: "Bash", Content: "make build"}, "allow", "rule", "userSettings"),
			Entry("deny rule on a compound command",
				testutil.CheckRequest{ToolName: "Bash", Content: "npm run test && rm -rf build"}, "deny", "rule", "projectSettings"),
			Entry("deny rule from the command line",
				testutil.CheckRequest{ToolName: "Bash", Content: "git push --force origin main"}, "deny", "rule", "cliArgument"),
			Entry("compound command with an unmatched part",
				testutil.CheckRequest{ToolName: "Bash", Content: "git status && curl example.com"}, "ask", "", ""),
			Entry("edit inside an allowed directory",
				testutil.CheckRequest{ToolName: "Edit", Content: "src/main.go"}, "allow", "rule", "projectSettings"),
			Entry("write covered by the Edit rule",
				testutil.CheckRequest{ToolName: "Write", Content: "src/pkg/new.go"}, "allow", "rule", "projectSettings"),
			Entry("edit outside the allowed directory",
				testutil.CheckRequest{ToolName: "Edit", Content: "docs/README.md"}, "ask", "", ""),
			Entry("path outside the project",
				testutil.CheckRequest{ToolName: "Edit", Content: "/etc/passwd"}, "deny", "path-traversal", ""),
			Entry("parent directory traversal",
				testutil.CheckRequest{ToolName: "Read", Content: "../other/file.txt"}, "deny", "path-traversal", ""),
			Entry("read deny rule",
				testutil.CheckRequest{ToolName: "Read", Content: "secrets/key.pem"}, "deny", "rule", "projectSettings"),
			Entry("ignored by a project pattern",
				testutil.CheckRequest{ToolName: "Read", Content: "build/output.log"}, "deny", "ignore-pattern", ""),
			Entry("ignored dotfile",
				testutil.CheckRequest{ToolName: "Grep", Content: ".env"}, "deny", "ignore-pattern", ""),
			Entry("allowed domain",
				testutil.CheckRequest{ToolName: "WebFetch", Content: "https://docs.example.com/guide"}, "allow", "rule", "projectSettings"),
			Entry("other domain",
				testutil.CheckRequest{ToolName: "WebFetch", Content: "https://example.org/"}, "ask", "", ""),
		)

		It("should derive content from the tool input", func() {
			d, err := client.Check(ctx, testutil.CheckRequest{
				ToolName: "Edit",
				Input:    map[string]any{"file_path": filepath.Join(testServer.WorkDir, "src", "main.go")},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Behavior).To(Equal("allow"))

			d, err = client.Check(ctx, testutil.CheckRequest{
				ToolName: "Bash",
				Input:    map[string]any{"command": "rm -rf /"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Behavior).To(Equal("deny"))
		})

		It("should suggest rules on ask", func() {
			d, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "npm test --watch"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Behavior).To(Equal("ask"))
			Expect(d.DecisionReason).To(BeNil())
			Expect(d.RuleSuggestions).NotTo(BeEmpty())
			Expect(d.RuleSuggestions[0].ToolName).To(Equal("Bash"))
			Expect(d.RuleSuggestions[0].RuleContent).To(Equal("npm test:*"))
		})

		It("should return ask without waiting for a reply", func() {
			start := time.Now()
			d, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "docker ps"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Behavior).To(Equal("ask"))
			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))

			pending, err := client.Pending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})

		It("should reject a request without toolName", func() {
			resp, err := client.Post(ctx, "/permission/check", map[string]string{"content": "ls"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))

			var e testutil.ErrorResponse
			Expect(resp.JSON(&e)).To(Succeed())
			Expect(e.Error.Code).To(Equal("INVALID_REQUEST"))
		})

		It("should reject a malformed body", func() {
			resp, err := client.Post(ctx, "/permission/check", "not an object")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
		})
	})

	Describe("POST /permission/check/batch", func() {
		It("should decide every invocation against one rule set", func() {
			decisions, err := client.CheckBatch(ctx,
				testutil.CheckRequest{ToolName: "Bash", Content: "git status"},
				testutil.CheckRequest{ToolName: "Bash", Content: "rm -rf /"},
				testutil.CheckRequest{ToolName: "Read", Content: "README.md"},
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(decisions).To(HaveLen(3))

			Expect(decisions[0].Behavior).To(Equal("allow"))
			Expect(decisions[1].Behavior).To(Equal("deny"))
			Expect(decisions[2].Behavior).To(Equal("ask"))
			Expect(decisions[1].RuleSetVersion).To(Equal(decisions[0].RuleSetVersion))
			Expect(decisions[2].RuleSetVersion).To(Equal(decisions[0].RuleSetVersion))
		})

		It("should report the index of an invalid invocation", func() {
			resp, err := client.Post(ctx, "/permission/check/batch", map[string]any{
				"invocations": []map[string]string{{"toolName": "Bash", "content": "ls"}, {"content": "ls"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
			Expect(resp.String()).To(ContainSubstring(`"index":1`))
		})
	})

	// ==================== Interactive requests ====================
	Describe("POST /permission/request", func() {
		AfterEach(func() {
			Expect(client.ClearSessionRules(ctx)).To(Succeed())
		})

		request := func(content string) (<-chan *testutil.RequestResult, string) {
			out := make(chan *testutil.RequestResult, 1)
			sessionID := "req-" + testutil.RandomString(8)
			go func() {
				defer GinkgoRecover()
				res, err := client.Request(ctx, testutil.CheckRequest{ToolName: "Bash", Content: content, SessionID: sessionID})
				Expect(err).NotTo(HaveOccurred())
				out <- res
			}()
			return out, sessionID
		}

		waitPending := func(sessionID string) testutil.PendingRequest {
			var found testutil.PendingRequest
			Eventually(func() bool {
				pending, err := client.Pending(ctx)
				Expect(err).NotTo(HaveOccurred())
				for _, p := range pending {
					if p.Invocation.SessionID == sessionID {
						found = p
						return true
					}
				}
				return false
			}, 5*time.Second, 50*time.Millisecond).Should(BeTrue())
			return found
		}

		It("should return immediately when a rule decides", func() {
			res, err := client.Request(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "git status"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Granted).To(BeTrue())
			Expect(res.Decision.Behavior).To(Equal("allow"))

			res, err = client.Request(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "rm -rf /"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Granted).To(BeFalse())
			Expect(res.Decision.Behavior).To(Equal("deny"))
			Expect(res.Message).NotTo(BeEmpty())
		})

		It("should grant once", func() {
			out, sessionID := request("docker compose up")
			req := waitPending(sessionID)
			Expect(req.Invocation.Content).To(Equal("docker compose up"))
			Expect(req.Decision.Behavior).To(Equal("ask"))

			Expect(client.Respond(ctx, req.ID, "once")).To(Succeed())

			var res *testutil.RequestResult
			Eventually(out, 5*time.Second).Should(Receive(&res))
			Expect(res.Granted).To(BeTrue())
			Expect(res.Decision.ReasonType()).To(Equal("user"))

			rules, err := client.SessionRules(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(BeEmpty())
		})

		It("should remember an always reply for the session", func() {
			out, sessionID := request("npm test --watch")
			req := waitPending(sessionID)

			Expect(client.Respond(ctx, req.ID, "always")).To(Succeed())

			var res *testutil.RequestResult
			Eventually(out, 5*time.Second).Should(Receive(&res))
			Expect(res.Granted).To(BeTrue())

			rules, err := client.SessionRules(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(HaveLen(1))
			Expect(rules[0].String()).To(Equal("Bash(npm test:*)"))
			Expect(rules[0].Source).To(Equal("session"))

			d, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "npm test"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Behavior).To(Equal("allow"))
			Expect(d.Rule.Source).To(Equal("session"))
		})

		It("should deny on reject", func() {
			out, sessionID := request("terraform apply")
			req := waitPending(sessionID)

			Expect(client.Respond(ctx, req.ID, "reject")).To(Succeed())

			var res *testutil.RequestResult
			Eventually(out, 5*time.Second).Should(Receive(&res))
			Expect(res.Granted).To(BeFalse())
			Expect(res.Decision.Behavior).To(Equal("deny"))
		})

		It("should drop the request when the caller goes away", func() {
			reqCtx, cancel := context.WithCancel(ctx)
			sessionID := "gone-" + testutil.RandomString(8)
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = client.Request(reqCtx, testutil.CheckRequest{ToolName: "Bash", Content: "sleep 100", SessionID: sessionID})
			}()
			req := waitPending(sessionID)
			cancel()
			Eventually(done, 5*time.Second).Should(BeClosed())

			Eventually(func() error {
				return client.Respond(ctx, req.ID, "once")
			}, 5*time.Second, 50*time.Millisecond).Should(MatchError(ContainSubstring("404")))
		})
	})

	Describe("POST /permission/{requestID}", func() {
		It("should return 404 for an unknown request", func() {
			resp, err := client.Post(ctx, "/permission/01HZZZZZZZZZZZZZZZZZZZZZZZ", map[string]string{"response": "once"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))
		})

		It("should reject an unknown response", func() {
			resp, err := client.Post(ctx, "/permission/anything", map[string]string{"response": "sometimes"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
		})
	})

	// ==================== Rules ====================
	Describe("GET /permission/rules", func() {
		It("should list rules in evaluation order", func() {
			rs, err := client.Rules(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rs.RootDir).To(Equal(testServer.WorkDir))
			Expect(rs.Version).To(BeNumerically(">", 0))

			rules := rs.RuleStrings()
			Expect(rules).To(ContainElements(
				"deny Bash(git push --force:*)",
				"allow Bash(git status)",
				"deny Bash(rm:*)",
				"allow Bash(make:*)",
			))
			// Command line rules come first, the user scope after the project.
			Expect(rules[0]).To(Equal("deny Bash(git push --force:*)"))
			Expect(indexOf(rules, "allow Bash(make:*)")).To(BeNumerically(">", indexOf(rules, "allow Bash(git status)")))
		})

		It("should include lint findings on request", func() {
			_, err := client.AddSessionRules(ctx, "allow", "Bsah(ls)")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() {
				Expect(client.ClearSessionRules(ctx)).To(Succeed())
			})

			rs, err := client.Rules(ctx, testutil.WithQuery(map[string]string{"lint": "true"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(rs.Findings).To(HaveLen(1))
			Expect(rs.Findings[0].Rule.String()).To(Equal("Bsah(ls)"))
			Expect(rs.Findings[0].Message).To(ContainSubstring(`did you mean "Bash"?`))
		})
	})

	Describe("Session rules", func() {
		AfterEach(func() {
			Expect(client.ClearSessionRules(ctx)).To(Succeed())
		})

		It("should apply added allow rules", func() {
			before, err := client.Rules(ctx)
			Expect(err).NotTo(HaveOccurred())

			rs, err := client.AddSessionRules(ctx, "allow", "Bash(cargo build:*)")
			Expect(err).NotTo(HaveOccurred())
			Expect(rs.Version).To(BeNumerically(">", before.Version))

			d, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "cargo build --release"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Behavior).To(Equal("allow"))
			Expect(d.Rule.Source).To(Equal("session"))
		})

		It("should never let a session allow override a deny", func() {
			_, err := client.AddSessionRules(ctx, "allow", "Bash(rm -rf build)")
			Expect(err).NotTo(HaveOccurred())

			d, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "rm -rf build"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Behavior).To(Equal("deny"))
			Expect(d.Rule.Source).To(Equal("projectSettings"))
		})

		It("should forget rules when cleared", func() {
			_, err := client.AddSessionRules(ctx, "allow", "Bash(cargo build:*)")
			Expect(err).NotTo(HaveOccurred())
			Expect(client.ClearSessionRules(ctx)).To(Succeed())

			rules, err := client.SessionRules(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(BeEmpty())

			d, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "cargo build --release"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Behavior).To(Equal("ask"))
		})

		It("should reject an unknown behavior", func() {
			resp, err := client.Post(ctx, "/permission/session", map[string]any{"behavior": "ask", "rules": []string{"Bash"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
		})
	})

	// ==================== Audit ====================
	Describe("GET /permission/audit", func() {
		It("should record decisions", func() {
			sessionID := "audit-" + testutil.RandomString(8)
			_, err := client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "git status", SessionID: sessionID})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Check(ctx, testutil.CheckRequest{ToolName: "Bash", Content: "rm -rf /", SessionID: sessionID})
			Expect(err).NotTo(HaveOccurred())

			var records []testutil.AuditRecord
			Eventually(func() int {
				records, err = client.Audit(ctx, map[string]string{"sessionID": sessionID})
				Expect(err).NotTo(HaveOccurred())
				return len(records)
			}, 5*time.Second, 50*time.Millisecond).Should(Equal(2))

			denied, err := client.Audit(ctx, map[string]string{"sessionID": sessionID, "behavior": "deny"})
			Expect(err).NotTo(HaveOccurred())
			Expect(denied).To(HaveLen(1))
			Expect(denied[0].Rule).To(Equal("Bash(rm:*)"))
			Expect(denied[0].ReasonType).To(Equal("rule"))

			allowed, err := client.Audit(ctx, map[string]string{"sessionID": sessionID, "behavior": "allow"})
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(HaveLen(1))

			resp, err := client.Get(ctx, "/permission/audit/"+allowed[0].ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
			var rec testutil.AuditRecord
			Expect(resp.JSON(&rec)).To(Succeed())
			Expect(rec.Content).To(Equal("git status"))
		})

		It("should validate query parameters", func() {
			resp, err := client.Get(ctx, "/permission/audit", testutil.WithQuery(map[string]string{"limit": "-1"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))

			resp, err = client.Get(ctx, "/permission/audit", testutil.WithQuery(map[string]string{"since": "yesterday"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
		})

		It("should return 404 for an unknown record", func() {
			resp, err := client.Get(ctx, "/permission/audit/01HZZZZZZZZZZZZZZZZZZZZZZZ")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))
		})
	})

	Describe("GET /mcp", func() {
		It("should be empty without a prompt tool", func() {
			resp, err := client.Get(ctx, "/mcp")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))
			Expect(resp.String()).To(MatchJSON(`[]`))
		})
	})
})

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
