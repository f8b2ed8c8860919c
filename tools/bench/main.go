package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"im-sync/pkg/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -------------------- 统计 --------------------

type LatencyStats struct {
	Total      int
	Successful int
	Failed     int
	sum        time.Duration
	Max        time.Duration
	Min        time.Duration
	mu         sync.Mutex
}

func (s *LatencyStats) Add(success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Total++
	if !success {
		s.Failed++
		return
	}
	s.Successful++
	s.sum += latency
	if latency > s.Max {
		s.Max = latency
	}
	if s.Min == 0 || latency < s.Min {
		s.Min = latency
	}
}

func (s *LatencyStats) Print(title string, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("\n=== %s ===\n", title)
	fmt.Printf("耗时: %v\n", took)
	fmt.Printf("总数: %d 成功: %d 失败: %d\n", s.Total, s.Successful, s.Failed)
	if s.Successful > 0 {
		fmt.Printf("延迟 平均: %v 最大: %v 最小: %v\n", s.sum/time.Duration(s.Successful), s.Max, s.Min)
	}
	if took > 0 {
		fmt.Printf("吞吐: %.2f/s\n", float64(s.Successful)/took.Seconds())
	}
}

// -------------------- HTTP --------------------

var httpClient = &http.Client{Timeout: 8 * time.Second}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(method, url, token string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if env.Code != 0 {
		return fmt.Errorf("code=%d %s", env.Code, env.Message)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

type benchUser struct {
	ID    uint
	Token string
}

func registerUser(base, name string) (*benchUser, error) {
	var data struct {
		User struct {
			ID uint `json:"id"`
		} `json:"user"`
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"username": name, "password": "bench123"}
	if err := call("POST", base+"/api/v1/users/register", "", body, &data); err != nil {
		return nil, err
	}
	return &benchUser{ID: data.User.ID, Token: data.AccessToken}, nil
}

// -------------------- 消息压测 --------------------

// runChat 每个用户连一条WebSocket，向下一个用户发送 perUser 条消息，统计 ack 延迟
func runChat(base string, users []*benchUser, perUser int) {
	stats := &LatencyStats{}
	wsBase := "ws" + strings.TrimPrefix(base, "http") + "/ws?token="
	var wg sync.WaitGroup
	start := time.Now()

	for i, u := range users {
		peer := users[(i+1)%len(users)]
		wg.Add(1)
		go func(u, peer *benchUser) {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(wsBase+u.Token, nil)
			if err != nil {
				for j := 0; j < perUser; j++ {
					stats.Add(false, 0)
				}
				return
			}
			defer conn.Close()

			pending := make(map[string]time.Time, perUser)
			var mu sync.Mutex
			done := make(chan struct{})
			go func() {
				defer close(done)
				acked := 0
				for acked < perUser {
					_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
					_, data, err := conn.ReadMessage()
					if err != nil {
						return
					}
					frame, err := protocol.Decode(data)
					if err != nil {
						continue
					}
					ack, ok := frame.(*protocol.Ack)
					if !ok {
						continue
					}
					mu.Lock()
					sentAt, ok := pending[ack.Cid]
					delete(pending, ack.Cid)
					mu.Unlock()
					if ok {
						stats.Add(ack.Status == protocol.StatusSent, time.Since(sentAt))
						acked++
					}
				}
			}()

			for j := 0; j < perUser; j++ {
				cid := uuid.NewString()
				data, _ := protocol.Encode(&protocol.Chat{Cid: cid, Content: "bench " + strconv.Itoa(j), RecipientID: &peer.ID})
				mu.Lock()
				pending[cid] = time.Now()
				mu.Unlock()
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					break
				}
			}
			<-done

			mu.Lock()
			for range pending {
				stats.Add(false, 0)
			}
			mu.Unlock()
		}(u, peer)
	}

	wg.Wait()
	stats.Print("消息发送测试结果", time.Since(start))
}

// runSync 每个用户从0开始翻页拉取全部消息
func runSync(base string, users []*benchUser) {
	stats := &LatencyStats{}
	var wg sync.WaitGroup
	start := time.Now()

	for _, u := range users {
		wg.Add(1)
		go func(u *benchUser) {
			defer wg.Done()
			cursor := int64(0)
			for {
				var page protocol.SyncPage
				t0 := time.Now()
				err := call("GET", fmt.Sprintf("%s/api/v1/sync?last_ts=%d", base, cursor), u.Token, nil, &page)
				stats.Add(err == nil, time.Since(t0))
				if err != nil || !page.HasMore {
					return
				}
				cursor = page.LastTs
			}
		}(u)
	}

	wg.Wait()
	stats.Print("拉取同步测试结果", time.Since(start))
}

// -------------------- 入口 --------------------

func argInt(i, def int) int {
	if len(os.Args) > i {
		if val, err := strconv.Atoi(os.Args[i]); err == nil && val > 0 {
			return val
		}
	}
	return def
}

func main() {
	// 用法: bench [用户数] [每用户消息数] [服务地址]
	userCount := argInt(1, 5)
	perUser := argInt(2, 20)
	baseURL := "http://localhost:8080"
	if len(os.Args) > 3 {
		baseURL = strings.TrimRight(os.Args[3], "/")
	}

	fmt.Println("=== IM 同步服务压测 ===")
	fmt.Printf("开始时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Printf("目标: %s 用户: %d 每用户消息: %d\n", baseURL, userCount, perUser)

	if userCount < 2 {
		userCount = 2
	}
	prefix := "bench-" + uuid.NewString()[:8]
	users := make([]*benchUser, 0, userCount)
	for i := 0; i < userCount; i++ {
		u, err := registerUser(baseURL, fmt.Sprintf("%s-%d", prefix, i))
		if err != nil {
			fmt.Println("注册用户失败:", err)
			os.Exit(1)
		}
		users = append(users, u)
	}

	runChat(baseURL, users, perUser)
	runSync(baseURL, users)

	fmt.Println("\n=== 测试完成 ===")
}
